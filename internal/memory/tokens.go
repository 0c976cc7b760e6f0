package memory

import "strings"

// EstimateTokens approximates the token cost of text for context budgeting.
// CJK ideographs run about 1 token per 1.5 characters; everything else
// about 1 token per 4 characters.
func EstimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	cjk := 0
	other := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		} else {
			other++
		}
	}
	estimate := int(float64(cjk)/1.5 + float64(other)/4.0)
	if estimate < 1 {
		return 1
	}
	return estimate
}
