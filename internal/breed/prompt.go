package breed

import (
	"fmt"
	"strings"
)

// AgeProgressionPrompt assembles the generation instruction for one target
// age. The profile supplies the breed-specific aging language; the hard
// constraints keep the render anchored to the uploaded dog.
func AgeProgressionPrompt(breedName string, profile Profile, years int) string {
	note, ok := profile.AgeNotes[years]
	if !ok {
		note = profile.AgeNotes[3]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Render this exact dog, a %s, as it will realistically look at %d year(s) old.\n", breedName, years)
	fmt.Fprintf(&b, "Body: %s\n", note.Body)
	fmt.Fprintf(&b, "Face: %s\n", note.Face)
	fmt.Fprintf(&b, "Size and coat: %s\n", note.Size)
	fmt.Fprintf(&b, "Graying: %s.\n", profile.GrayingPattern)
	if profile.Brachycephalic {
		b.WriteString("Keep the flat brachycephalic muzzle; do not lengthen it.\n")
	}
	b.WriteString("Hard constraints: same individual dog, same markings and eye color, same pose and background; photorealistic; no text, watermarks or logos.")
	return b.String()
}
