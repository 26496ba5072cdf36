package tool

import "fmt"

// Prompt renders an approval message in the context's language, appending
// the context info. en and zh are the bodies without trailing info.
func Prompt(actx ApprovalContext, en, zh string) string {
	if actx.English {
		return en + actx.Info
	}
	return zh + actx.Info
}

// DefaultPrompt is used when policy forces approval for a tool that does not
// ask for it itself.
func DefaultPrompt(name string, actx ApprovalContext) string {
	return Prompt(actx,
		fmt.Sprintf("Do you allow calling the %s tool?", name),
		fmt.Sprintf("是否允许调用 %s 工具？", name),
	)
}
