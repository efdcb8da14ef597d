package stores

import (
	"fmt"
	"log"
	"strings"

	"github.com/davidakpele/chatengine/models"
)

// SanitizeTranscript repairs a cached transcript before it is shown again.
// It handles the ways a transcript goes bad between runs:
// 1. A process that stopped mid-stream left a message flagged as streaming
// 2. Records without text (an aborted stream that never got a chunk)
// 3. Duplicate ids from a message persisted twice
// 4. Roles written by another client version
//
// The result:
// - has no streaming message
// - has unique, non-empty ids (first occurrence wins)
// - carries only user and assistant roles
func SanitizeTranscript(msgs []models.Message) []models.Message {
	if len(msgs) == 0 {
		return msgs
	}

	result := make([]models.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	dropped := 0

	for i, msg := range msgs {
		if strings.TrimSpace(msg.Text) == "" {
			dropped++
			continue
		}
		if msg.ID == "" {
			msg.ID = models.NewMessageID()
		}
		if _, dup := seen[msg.ID]; dup {
			log.Printf("[TRANSCRIPT_SANITIZER] Dropping duplicate message id %s at index %d", msg.ID, i)
			dropped++
			continue
		}
		seen[msg.ID] = struct{}{}

		msg.Role = models.ParseRole(string(msg.Role))
		msg.IsStreaming = false
		result = append(result, msg)
	}

	if dropped > 0 {
		log.Printf("[TRANSCRIPT_SANITIZER] Removed %d unusable messages", dropped)
	}
	return result
}

// DetectCorruptedTranscript lists the problems SanitizeTranscript would repair.
// The list is empty for a clean transcript.
func DetectCorruptedTranscript(msgs []models.Message) []string {
	issues := []string{}

	seen := make(map[string]struct{}, len(msgs))
	streaming := 0
	for i, msg := range msgs {
		if msg.IsStreaming {
			streaming++
		}
		if strings.TrimSpace(msg.Text) == "" {
			issues = append(issues, fmt.Sprintf("Empty message at index %d", i))
		}
		if msg.ID == "" {
			issues = append(issues, fmt.Sprintf("Message without id at index %d", i))
		} else if _, dup := seen[msg.ID]; dup {
			issues = append(issues, fmt.Sprintf("Duplicate message id %s", msg.ID))
		}
		seen[msg.ID] = struct{}{}

		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			issues = append(issues, fmt.Sprintf("Unknown role %q at index %d", msg.Role, i))
		}
	}

	if streaming > 0 {
		issues = append(issues, fmt.Sprintf("%d message(s) still flagged as streaming", streaming))
	}

	return issues
}
