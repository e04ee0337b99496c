package baseline

import "strings"

// SelectorsForGoal derives CSS selectors from the goal text when none were
// supplied. Crude keyword heuristics; the point of the duel is precisely that
// the DOM side depends on guesses like these.
func SelectorsForGoal(goal string) map[string]string {
	g := strings.ToLower(goal)
	selectors := map[string]string{}

	if strings.Contains(g, "price") || strings.Contains(g, "laptop") ||
		strings.Contains(g, "product") || strings.Contains(g, "book") ||
		strings.Contains(g, "cheap") {
		selectors["prices"] = ".price, .product-price, .price_color, [class*='price']"
		selectors["products"] = ".product-name, .product-title, h2.title, h3 a"
	}
	if strings.Contains(g, "login") || strings.Contains(g, "sign in") {
		selectors["login_button"] = "button[type='submit'], input[type='submit']"
		selectors["forms"] = "form"
	}
	if strings.Contains(g, "article") || strings.Contains(g, "content") ||
		strings.Contains(g, "post") {
		selectors["articles"] = "article, .article, .post"
		selectors["headings"] = "h1, h2, h3"
	}

	if len(selectors) == 0 {
		selectors["links"] = "a[href]"
		selectors["text"] = "p"
	}
	return selectors
}
