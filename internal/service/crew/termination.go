package crew

import (
	"context"
	"strings"

	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
)

// ApprovalHook runs when the policy decides to stop. It is invoked before
// ShouldTerminate returns, so evaluating the policy is not side-effect free.
type ApprovalHook func(ctx context.Context, turns []chat.Turn) error

// ApprovalPolicy stops a run once the end user's most recent turn contains
// the approval keyword.
type ApprovalPolicy struct {
	UserRole  string
	Keyword   string
	OnApprove ApprovalHook
}

// Approved reports whether the most recent turn by the end-user role contains
// the keyword, ignoring case. Older user turns are not consulted.
func (p ApprovalPolicy) Approved(turns []chat.Turn) bool {
	keyword := strings.ToUpper(p.Keyword)
	if keyword == "" {
		return false
	}

	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != p.UserRole {
			continue
		}
		return strings.Contains(strings.ToUpper(turns[i].Text), keyword)
	}
	return false
}

// ShouldTerminate evaluates the policy and, on approval, runs the hook.
// A hook error is returned alongside the decision.
func (p ApprovalPolicy) ShouldTerminate(ctx context.Context, turns []chat.Turn) (bool, error) {
	if !p.Approved(turns) {
		return false, nil
	}
	if p.OnApprove == nil {
		return true, nil
	}
	return true, p.OnApprove(ctx, turns)
}
