package agents

import (
	"context"
	"log/slog"
	"strings"

	"FansDFS/internal/command"
	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/llm"
	"FansDFS/internal/session"
	"FansDFS/pkg/logger"
)

// ManagerAgent 是新会话的默认入口：负责欢迎语、静态命令目录，
// 以及把路由无法识别的输入交给大模型生成友好回复。
type ManagerAgent struct {
	llm llm.Client
	log *slog.Logger
}

// NewManagerAgent 创建管理智能体。llmClient 可以为空，此时自由文本
// 输入退化为静态帮助回复。
func NewManagerAgent(llmClient llm.Client) *ManagerAgent {
	return &ManagerAgent{llm: llmClient, log: logger.Named("manager-agent")}
}

// ID 实现 Agent 接口。
func (a *ManagerAgent) ID() command.AgentID { return command.AgentManager }

const welcomeReply = "Hi! 👋 Welcome to 1000fans! 1000fans is a private content platform used by Theosis to provide its fans with exclusive content.\n\n" +
	"To access the artist's private music and videos, you must connect a crypto wallet. To connect your wallet, type 'connect wallet'.\n\n" +
	"If you do not have a wallet yet and want to create one, type 'create wallet'.\n\n" +
	"You can also access the artist's music on the usual media platforms by saying 'spotify' or 'youtube',\n\n" +
	"and you can contact Theosis directly by saying 'contact'."

const listReply = "Available commands:\n" +
	"- 'spotify': Access Theosis music on Spotify.\n" +
	"- 'youtube': Watch Theosis videos on YouTube.\n" +
	"- 'contact': Get info to contact Theosis.\n" +
	"- 'connect wallet': Connect your NEAR wallet to access exclusive content on 1000fans.\n" +
	"- 'create wallet': Create a NEAR wallet if you don't have one yet.\n" +
	"- 'mint token': Get your access token sent to your wallet.\n" +
	"- 'transfer token': Transfer or sell your limited fans token.\n" +
	"- 'upload file': Upload an audio file to the shared storage.\n" +
	"Type any command to proceed!"

const managerSystemPrompt = "You are in charge of interacting with users in a friendly human language " +
	"and routing tasks to dedicated agents from the DFS manager team. " +
	"Keep replies short and point users at the available commands when unsure."

var greetings = []string{"hi", "hello", "hey", "hola"}

// Handle 处理欢迎与自由文本命令。
func (a *ManagerAgent) Handle(ctx context.Context, cmd command.Command, sess *session.Session) Result {
	if cmd.Verb == command.VerbWelcome {
		return Result{Reply: welcomeReply, AwaitingInput: true}
	}

	// 路由器对格式错误的命令给出的用法提示优先。
	if hint := cmd.Arg(command.ArgHint); hint != "" {
		return Result{Reply: hint, AwaitingInput: true}
	}

	utterance := strings.TrimSpace(strings.ToLower(cmd.Arg(command.ArgUtterance)))
	if utterance == "" {
		return Result{Reply: welcomeReply, AwaitingInput: true}
	}

	if reply, ok := a.staticReply(utterance); ok {
		return Result{Reply: reply, AwaitingInput: true}
	}

	return a.completion(ctx, cmd.Arg(command.ArgUtterance))
}

// staticReply 匹配固定命令目录。
func (a *ManagerAgent) staticReply(utterance string) (string, bool) {
	for _, greeting := range greetings {
		if strings.Contains(utterance, greeting) {
			return welcomeReply + "\n\nType 'list' to see all available commands.", true
		}
	}
	switch {
	case strings.Contains(utterance, "spotify"):
		return "Check out Theosis on Spotify: https://open.spotify.com/artist/1ljniIS7mEd0z1zOE6MEL0", true
	case strings.Contains(utterance, "youtube"):
		return "Watch Theosis on YouTube: https://www.youtube.com/@TheosisRecords", true
	case strings.Contains(utterance, "contact"):
		return "Contact Theosis directly on WhatsApp +33617982358 or Twitter: @jcarbonnell", true
	case strings.Contains(utterance, "list"):
		return listReply, true
	}
	return "", false
}

// completion 将无法识别的输入交给大模型。大模型不可用时退化为帮助回复。
func (a *ManagerAgent) completion(ctx context.Context, utterance string) Result {
	if a.llm == nil {
		return Result{
			Reply:         "I didn't catch that. " + listReply,
			AwaitingInput: true,
		}
	}

	reply, err := a.llm.Complete(ctx, llm.Request{System: managerSystemPrompt, User: utterance})
	if err != nil {
		a.log.Warn("大模型补全失败", slog.Any("error", err))
		return failure(
			xerrors.Wrap(xerrors.CodeExecutorFailure, err, "大模型补全失败"),
			"I didn't catch that. "+listReply,
		)
	}
	return Result{Reply: reply, AwaitingInput: true}
}
