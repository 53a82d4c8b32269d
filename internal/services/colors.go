package services

import "unicode/utf16"

var userColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#FF8C69", "#87CEEB", "#F0E68C", "#FFB6C1",
}

// UserColor picks a stable palette color for a subject id. It matches the
// browser client's hash over UTF-16 code units, where only the shifted term
// is truncated to 32 bits.
func UserColor(subjectID string) string {
	var hash int64
	for _, c := range utf16.Encode([]rune(subjectID)) {
		shifted := int64(int32(uint32(hash)) << 5)
		hash = int64(c) + (shifted - hash)
	}
	if hash < 0 {
		hash = -hash
	}
	return userColors[hash%int64(len(userColors))]
}
