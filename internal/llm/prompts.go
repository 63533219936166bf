package llm

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

// SystemPrompt returns the instruction block sent ahead of the user prompt.
func SystemPrompt(c Capability, count int) string {
	switch c {
	case CapabilityHashtags:
		return fmt.Sprintf("You generate social media hashtags. Return exactly %d relevant hashtags "+
			"separated by commas and nothing else. Example format: #hashtag1, #hashtag2, #hashtag3", count)
	case CapabilityIdeas:
		return fmt.Sprintf("You generate social media post ideas. Return exactly %d ideas, one per line, "+
			"with no numbering and no additional text.", count)
	default:
		return "You are a social media copywriter. Generate only the requested content, no additional explanations."
	}
}

// PostRequest describes a platform-aware post to generate.
type PostRequest struct {
	BusinessDescription string
	Audience            string
	Platform            string
	Tone                string
	MaxChars            int
}

var platformInstructions = map[string]string{
	"facebook":  "Create a Facebook post that is engaging and encourages interaction",
	"instagram": "Create an Instagram caption that is visually descriptive and uses emojis appropriately",
	"tiktok":    "Create a TikTok caption that is trendy, short, and uses popular hashtags",
	"general":   "Create a social media post that works across platforms",
}

var hashtagInstructions = map[string]string{
	"instagram": "Generate Instagram hashtags that are popular and relevant",
	"tiktok":    "Generate TikTok hashtags that are trending and viral",
	"general":   "Generate general social media hashtags",
}

// BuildPostPrompt renders the prompt for a platform-aware post.
func BuildPostPrompt(r PostRequest) string {
	platform := r.Platform
	if platform == "" {
		platform = "general"
	}
	tone := r.Tone
	if tone == "" {
		tone = "professional"
	}
	instr, ok := platformInstructions[platform]
	if !ok {
		instr = platformInstructions["general"]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s\n", r.BusinessDescription)
	if r.Audience != "" {
		fmt.Fprintf(&b, "Target Audience: %s\n", r.Audience)
	}
	fmt.Fprintf(&b, "\nPlatform: %s\nTone: %s\nInstructions: %s\n\n", platform, tone, instr)
	b.WriteString("Generate a compelling social media post that matches the business description and target audience, ")
	b.WriteString("uses the specified tone, and is optimized for the specified platform.")
	if r.MaxChars > 0 {
		fmt.Fprintf(&b, " Stay within %d characters.", r.MaxChars)
	}
	return b.String()
}

// BuildHashtagPrompt renders the prompt for hashtag generation.
func BuildHashtagPrompt(content, platform string, count int) string {
	instr, ok := hashtagInstructions[platform]
	if !ok {
		platform = "general"
		instr = hashtagInstructions["general"]
	}
	return fmt.Sprintf("Content: %s\n\nPlatform: %s\nInstructions: %s\n\nGenerate %d relevant hashtags for this content.",
		content, platform, instr, count)
}

// BuildIdeasPrompt renders the prompt for an idea list.
func BuildIdeasPrompt(topic, platform string, count int) string {
	if platform == "" {
		platform = "general"
	}
	return fmt.Sprintf("Topic: %s\nPlatform: %s\n\nSuggest %d distinct post ideas.", topic, platform, count)
}

// ParseHashtags splits a comma or whitespace separated hashtag list, adding
// the leading '#' where missing and dropping duplicates. limit <= 0 keeps all.
func ParseHashtags(content string, limit int) []string {
	fields := strings.FieldsFunc(content, func(r rune) bool {
		return r == ',' || r == '\n' || unicode.IsSpace(r)
	})
	seen := make(map[string]bool, len(fields))
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		tag := strings.Trim(f, " \t\"'.;")
		if tag == "" || tag == "#" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
		if limit > 0 && len(tags) == limit {
			break
		}
	}
	return tags
}

// ParseIdeas splits one idea per line, stripping list markers.
func ParseIdeas(content string, limit int) []string {
	lines := strings.Split(content, "\n")
	ideas := make([]string, 0, len(lines))
	for _, line := range lines {
		idea := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if idea == "" {
			continue
		}
		ideas = append(ideas, idea)
		if limit > 0 && len(ideas) == limit {
			break
		}
	}
	return ideas
}
