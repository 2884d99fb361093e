// Package llm abstracts the completion service used for free-form manager
// replies. Concrete providers live in subpackages.
package llm
