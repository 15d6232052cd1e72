package breed

import (
	"strings"

	"github.com/pupscan/pupscan-backend/internal/clients/openai"
)

// CleanName normalizes the identifier's primary-breed string. Named designer
// crosses pass through untouched; every other category gets mix/cross
// suffixes, slash alternates and " x <breed>" tails stripped.
func CleanName(name string, category openai.Category) string {
	name = strings.TrimSpace(name)
	if category == openai.CategoryDesignerHybrid {
		return name
	}

	if i := strings.Index(name, "/"); i >= 0 {
		name = name[:i]
	}
	if i := strings.Index(strings.ToLower(name), " x "); i >= 0 {
		name = name[:i]
	}
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(name)
		for _, suf := range []string{" mix", " cross", "-mix", "-cross", " mixed breed"} {
			if strings.HasSuffix(lower, suf) {
				name = strings.TrimSpace(name[:len(name)-len(suf)])
				changed = true
				break
			}
		}
	}
	return strings.TrimSpace(name)
}

// Breeds that commonly front designer crosses. A classifier hit on one of
// these makes an identifier override a hybrid override rather than a plain
// one.
var hybridProne = []string{
	"poodle",
	"labrador",
	"golden retriever",
	"cocker spaniel",
	"maltese",
	"bichon",
	"schnauzer",
	"yorkshire terrier",
	"chihuahua",
	"pug",
	"beagle",
	"cavalier king charles",
}

func HybridProne(breedName string) bool {
	name := strings.ToLower(strings.TrimSpace(breedName))
	for _, b := range hybridProne {
		if strings.Contains(name, b) {
			return true
		}
	}
	return false
}
