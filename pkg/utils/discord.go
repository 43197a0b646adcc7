package utils

import (
	"fmt"
	"strings"
)

// FormatUserMention formats a user ID as a Discord mention
func FormatUserMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// ExtractUserIDFromMention extracts user ID from Discord mention
func ExtractUserIDFromMention(mention string) string {
	userID := strings.TrimPrefix(mention, "<@")
	userID = strings.TrimSuffix(userID, ">")
	// Remove ! if present (for nickname mentions)
	return strings.TrimPrefix(userID, "!")
}

// IsUserMention checks if a string is a user mention. Role mentions (<@&id>)
// are not.
func IsUserMention(text string) bool {
	return strings.HasPrefix(text, "<@") && strings.HasSuffix(text, ">") && !strings.HasPrefix(text, "<@&")
}

// FormatLeaderboardEntry formats a leaderboard entry with rank, user, and duration
func FormatLeaderboardEntry(rank int, userMention, duration string) string {
	var medal string
	switch rank {
	case 1:
		medal = "🥇"
	case 2:
		medal = "🥈"
	case 3:
		medal = "🥉"
	default:
		medal = fmt.Sprintf("%d.", rank)
	}

	return fmt.Sprintf("%s %s - %s", medal, userMention, duration)
}

// TruncateString shortens s to at most maxLen runes, ending in an ellipsis
// when cut.
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}
