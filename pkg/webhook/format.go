// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Payload formats understood by FormatPayload.
const (
	FormatKaiba       = "kaiba"
	FormatGitHubIssue = "github_issue"
	FormatDiscord     = "discord"
)

const discordDescriptionLimit = 4096

// FormatPayload renders the request body for a webhook's payload format.
// Empty and unknown formats send the payload as is.
func FormatPayload(format string, p Payload) ([]byte, error) {
	switch format {
	case FormatGitHubIssue:
		return json.Marshal(githubIssue(p))
	case FormatDiscord:
		return json.Marshal(discordMessage(p))
	default:
		return json.Marshal(p)
	}
}

// KnownFormat reports whether format selects a dedicated renderer.
func KnownFormat(format string) bool {
	switch format {
	case "", FormatKaiba, FormatGitHubIssue, FormatDiscord:
		return true
	}
	return false
}

type issueBody struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

// githubIssue maps a payload to the body of the GitHub "create an issue" API.
// Data fields title, body and labels are used when present.
func githubIssue(p Payload) issueBody {
	var data map[string]any
	_ = json.Unmarshal(p.Data, &data)

	issue := issueBody{
		Title:  fmt.Sprintf("[Kaiba] %s from Rei %s", p.Event.String(), shortID(p.ReiID)),
		Labels: []string{"kaiba", string(p.Event.Kind)},
	}
	if title, ok := data["title"].(string); ok && title != "" {
		issue.Title = title
	}
	if labels, ok := data["labels"].([]any); ok {
		for _, l := range labels {
			if s, ok := l.(string); ok && s != "" {
				issue.Labels = append(issue.Labels, s)
			}
		}
	}
	if body, ok := data["body"].(string); ok && body != "" {
		issue.Body = body
		return issue
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Event:** `%s`\n", p.Event.String())
	fmt.Fprintf(&b, "**Rei:** `%s`\n", p.ReiID)
	fmt.Fprintf(&b, "**Timestamp:** %s\n", p.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "**Delivery:** `%s`\n\n", p.DeliveryID)
	pretty, err := json.MarshalIndent(json.RawMessage(p.Data), "", "  ")
	if err != nil {
		pretty = p.Data
	}
	b.WriteString("```json\n")
	b.Write(pretty)
	b.WriteString("\n```\n")
	issue.Body = b.String()
	return issue
}

// discordMessage maps a payload to a Discord webhook execution body.
func discordMessage(p Payload) *discordgo.WebhookParams {
	var data map[string]any
	_ = json.Unmarshal(p.Data, &data)

	description := ""
	if s, ok := data["summary"].(string); ok {
		description = s
	} else if s, ok := data["message"].(string); ok {
		description = s
	}
	if len(description) > discordDescriptionLimit {
		description = description[:discordDescriptionLimit-3] + "..."
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Kaiba · %s", p.Event.String()),
		Description: description,
		Color:       0x0099ff,
		Timestamp:   p.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Rei %s | delivery %s", shortID(p.ReiID), shortID(p.DeliveryID)),
		},
		Fields: []*discordgo.MessageEmbedField{},
	}
	for _, key := range sortedScalarKeys(data) {
		if key == "summary" || key == "message" {
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   key,
			Value:  fmt.Sprint(data[key]),
			Inline: true,
		})
		if len(embed.Fields) == 25 {
			break
		}
	}
	return &discordgo.WebhookParams{
		Content: fmt.Sprintf("Rei %s: %s", shortID(p.ReiID), p.Event.String()),
		Embeds:  []*discordgo.MessageEmbed{embed},
	}
}

func sortedScalarKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k, v := range data {
		switch v.(type) {
		case string, float64, bool:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
