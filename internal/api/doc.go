// Package api 暴露控制台对话的 REST 接口。
package api
