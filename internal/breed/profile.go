package breed

import (
	"fmt"
	"strings"
)

// Profile describes how a breed ages physically. It parametrizes the
// age-progression prompts and is snapshotted into the scan's simulation
// block.
type Profile struct {
	SizeCategory       string          `json:"size_category"` // toy | small | medium | large | giant
	BodyShape          string          `json:"body_shape"`
	CoatType           string          `json:"coat_type"`
	GrayingPattern     string          `json:"graying_pattern"`
	Brachycephalic     bool            `json:"brachycephalic"`
	GrowsSignificantly bool            `json:"grows_significantly"`
	AgeNotes           map[int]AgeNote `json:"age_notes"`
}

type AgeNote struct {
	Body string `json:"body"`
	Face string `json:"face"`
	Size string `json:"size"`
}

type traits struct {
	size   string
	body   string
	coat   string
	gray   string
	brachy bool
	grows  bool
}

type rule struct {
	keywords []string
	traits   traits
}

// Ordered most-specific-first; the first keyword hit wins. Specific breed
// names come before generic group words ("retriever", "terrier") so that
// e.g. "Yorkshire Terrier" never falls through to the generic terrier row.
var rules = []rule{
	{[]string{"chihuahua", "yorkshire terrier", "pomeranian", "papillon", "maltese"},
		traits{"toy", "fine-boned, compact frame", "long fine coat", "muzzle and brow lighten first", false, false}},
	{[]string{"pug", "french bulldog", "english bulldog", "boston terrier", "shih tzu", "pekingese", "boxer"},
		traits{"small", "stocky, barrel-chested build", "short smooth coat", "early muzzle graying around the wrinkles", true, false}},
	{[]string{"dachshund", "basset hound", "corgi"},
		traits{"small", "long-backed, short-legged body", "short dense coat", "muzzle silvers, back may sag slightly", false, false}},
	{[]string{"great dane", "mastiff", "saint bernard", "irish wolfhound", "newfoundland", "bernese"},
		traits{"giant", "massive, heavy-boned frame", "dense double coat", "face whitens broadly by middle age", false, true}},
	{[]string{"poodle"},
		traits{"medium", "square, elegant frame", "tight curly coat", "fades evenly rather than graying", false, false}},
	{[]string{"labradoodle", "goldendoodle", "cockapoo", "maltipoo", "doodle"},
		traits{"medium", "athletic, slightly shaggy outline", "curly low-shed coat", "gradual fading through the curls", false, true}},
	{[]string{"labrador", "golden retriever", "retriever"},
		traits{"large", "broad-chested sporting build", "double coat, feathering on goldens", "muzzle whitens distinctly with age", false, true}},
	{[]string{"german shepherd", "belgian malinois", "shepherd"},
		traits{"large", "sloped back, muscular hindquarters", "medium double coat", "black mask recedes to silver", false, true}},
	{[]string{"husky", "malamute", "samoyed", "akita"},
		traits{"large", "wolfish, thick-set spitz build", "plush double coat", "mask softens, guard hairs whiten", false, true}},
	{[]string{"border collie", "collie", "australian shepherd", "sheltie"},
		traits{"medium", "lithe herding frame", "medium feathered coat", "blaze and muzzle whiten first", false, false}},
	{[]string{"beagle", "foxhound", "harrier"},
		traits{"small", "compact hound body", "short hard coat", "tricolor saddle fades, muzzle grays", false, false}},
	{[]string{"spaniel"},
		traits{"small", "compact, soft-featured build", "silky feathered coat", "face lightens around the eyes", false, false}},
	{[]string{"rottweiler", "doberman", "cane corso"},
		traits{"large", "powerful, deep-chested guard build", "short hard coat", "tan points and muzzle silver early", false, true}},
	{[]string{"pit bull", "staffordshire", "bull terrier"},
		traits{"medium", "muscular, wide-chested build", "short glossy coat", "muzzle and chest whiten", false, false}},
	{[]string{"greyhound", "whippet", "saluki"},
		traits{"large", "deep-chested, aerodynamic sighthound frame", "very short fine coat", "face grizzles lightly", false, false}},
	{[]string{"terrier"},
		traits{"small", "sturdy, wiry terrier build", "wiry coat", "beard and brows whiten first", false, false}},
}

var fallback = traits{
	size:  "medium",
	body:  "balanced, moderate build",
	coat:  "medium-length coat",
	gray:  "gradual muzzle graying",
	grows: true,
}

// ProfileFor resolves a breed name to its aging profile. Unknown names get
// the generic moderate-growth profile so the pipeline never fails on a
// breed it has not seen.
func ProfileFor(breedName string) Profile {
	name := strings.ToLower(strings.TrimSpace(breedName))
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(name, kw) {
				return buildProfile(r.traits)
			}
		}
	}
	return buildProfile(fallback)
}

func buildProfile(t traits) Profile {
	return Profile{
		SizeCategory:       t.size,
		BodyShape:          t.body,
		CoatType:           t.coat,
		GrayingPattern:     t.gray,
		Brachycephalic:     t.brachy,
		GrowsSignificantly: t.grows,
		AgeNotes: map[int]AgeNote{
			1: {
				Body: oneYearBody(t),
				Face: oneYearFace(t),
				Size: oneYearSize(t),
			},
			3: {
				Body: threeYearBody(t),
				Face: threeYearFace(t),
				Size: threeYearSize(t),
			},
		},
	}
}

func oneYearBody(t traits) string {
	if t.grows {
		return fmt.Sprintf("Near adult height with a %s, still filling out through the chest and shoulders.", t.body)
	}
	return fmt.Sprintf("Fully grown with a %s; puppy roundness gone from the limbs.", t.body)
}

func oneYearFace(t traits) string {
	if t.brachy {
		return "Adult facial wrinkles set in; the flat muzzle and prominent eyes are fully defined."
	}
	return "Muzzle lengthened to adult proportions; eyes look more set-back and alert than a puppy's."
}

func oneYearSize(t traits) string {
	return fmt.Sprintf("A %s-sized adult silhouette; the %s is established.", t.size, t.coat)
}

func threeYearBody(t traits) string {
	if t.grows {
		return fmt.Sprintf("Fully mature mass on a %s; musculature broad and settled.", t.body)
	}
	return fmt.Sprintf("Settled adult condition with a %s.", t.body)
}

func threeYearFace(t traits) string {
	return fmt.Sprintf("Calm adult expression; %s beginning subtly.", t.gray)
}

func threeYearSize(t traits) string {
	return fmt.Sprintf("Full %s adult size, %s at mature density.", t.size, t.coat)
}
