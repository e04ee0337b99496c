package vision

import "fmt"

const detectSystemPrompt = `You are a web navigation assistant analyzing a screenshot of a webpage.

Task: Identify the interactive elements (buttons, links, inputs, dropdowns, etc.) that could help achieve the stated goal.

For each element provide:
1. Element type: one of "button", "link", "input", "text", "image", "other"
2. Brief description (visible text or purpose)
3. Confidence score (0.0-1.0)
4. Bounding box coordinates [x, y, width, height] in page pixels
5. Reasoning for why this element is relevant
6. Recommended action ("click", "type", "scroll")

Respond ONLY with a JSON array, no explanation or markdown:
[
  {
    "element_type": "button",
    "description": "Login button",
    "confidence": 0.95,
    "bounding_box": [100, 200, 80, 40],
    "reasoning": "This button likely leads to authentication",
    "action": "click"
  }
]

Focus on elements most relevant to the goal. Identify pop-ups, cookie banners,
or other obstacles blocking the page if present - dismissing them may be the
most useful next step. Return [] if nothing on screen is relevant.`

func buildDetectPrompt(goal, pageContext string) string {
	prompt := fmt.Sprintf("Goal: %s", goal)
	if pageContext != "" {
		prompt += fmt.Sprintf("\n\nCurrent context: %s", pageContext)
	}
	return prompt
}
