// Package inspiration serves the static trip ideas shown next to a user's lists.
package inspiration

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Entry is one trip idea.
type Entry struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
}

const imageParams = "?auto=format&fit=crop&w=800&h=500"

var catalog = []Entry{
	{1, "Beach Getaway", "Relax on pristine shores", "https://images.unsplash.com/photo-1473116763249-2faaef81ccda" + imageParams},
	{2, "Mountain Trails", "Explore scenic hiking routes", "https://images.unsplash.com/photo-1551632811-561732d1e306" + imageParams},
	{3, "Cabin Retreat", "Disconnect in nature", "https://images.unsplash.com/photo-1510312305653-8ed496efae75" + imageParams},
	{4, "Desert Adventure", "Explore unique landscapes", "https://images.unsplash.com/photo-1542401886-65d6c61db217" + imageParams},
	{5, "City Exploration", "Discover urban treasures", "https://images.unsplash.com/photo-1477959858617-67f85cf4f1df" + imageParams},
	{6, "Island Paradise", "Escape to tropical serenity", "https://images.unsplash.com/photo-1559128010-7c1ad6e1b6a5" + imageParams},
}

// All returns a copy of the catalog.
func All() []Entry {
	return append([]Entry(nil), catalog...)
}

// Search returns entries whose title or description contains query, ignoring case.
func Search(query string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return All()
	}
	out := []Entry{}
	for _, e := range catalog {
		if strings.Contains(strings.ToLower(e.Title), query) || strings.Contains(strings.ToLower(e.Description), query) {
			out = append(out, e)
		}
	}
	return out
}

// Handler serves GET /api/inspiration, filtered by the optional q parameter.
func Handler(c *fiber.Ctx) error {
	return c.JSON(Search(c.Query("q")))
}
