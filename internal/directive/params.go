package directive

import (
	"strconv"
	"strings"
)

// Parameter names.
const (
	ParamLocation = "location"
	ParamQuery    = "query"
)

// knownLocations maps lowercase location spellings to their canonical
// name. Multi-word entries are matched as whole token sequences.
var knownLocations = map[string]string{
	"paris":                "Paris",
	"lyon":                 "Lyon",
	"marseille":            "Marseille",
	"toulouse":             "Toulouse",
	"nice":                 "Nice",
	"nantes":               "Nantes",
	"strasbourg":           "Strasbourg",
	"montpellier":          "Montpellier",
	"bordeaux":             "Bordeaux",
	"lille":                "Lille",
	"rennes":               "Rennes",
	"reims":                "Reims",
	"grenoble":             "Grenoble",
	"dijon":                "Dijon",
	"angers":               "Angers",
	"nîmes":                "Nîmes",
	"nimes":                "Nîmes",
	"toulon":               "Toulon",
	"annecy":               "Annecy",
	"île-de-france":        "Île-de-France",
	"ile-de-france":        "Île-de-France",
	"bretagne":             "Bretagne",
	"normandie":            "Normandie",
	"occitanie":            "Occitanie",
	"provence":             "Provence",
	"alsace":               "Alsace",
	"auvergne-rhône-alpes": "Auvergne-Rhône-Alpes",
	"auvergne-rhone-alpes": "Auvergne-Rhône-Alpes",
	"nouvelle-aquitaine":   "Nouvelle-Aquitaine",
	"hauts-de-france":      "Hauts-de-France",
	"grand est":            "Grand Est",
	"pays de la loire":     "Pays de la Loire",
}

// maxLocationWords is the longest knownLocations key, in words.
const maxLocationWords = 4

// queryMarkers are the words whose predecessor names the query.
var queryMarkers = map[string]bool{"leads": true, "prospects": true}

// queryStopWords never count as a query.
var queryStopWords = map[string]bool{
	"the": true, "some": true, "more": true, "new": true, "of": true, "for": true,
	"des": true, "de": true, "du": true, "les": true, "nouveaux": true, "plus": true,
}

// Locations returns the canonical names of every known location in
// directive, in order of appearance and without repeats.
func Locations(directive string) []string {
	words := tokenize(strings.ToLower(directive))
	var out []string
	seen := make(map[string]bool)
	for i := range words {
		for n := maxLocationWords; n >= 1; n-- {
			if i+n > len(words) {
				continue
			}
			name, ok := knownLocations[strings.Join(words[i:i+n], " ")]
			if !ok {
				continue
			}
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
			break
		}
	}
	return out
}

// ExtractParams derives positional parameters from directive: the first
// known location and the word preceding "leads" or "prospects".
func ExtractParams(directive string) map[string]string {
	params := make(map[string]string)
	if locs := Locations(directive); len(locs) > 0 {
		params[ParamLocation] = locs[0]
	}

	words := tokenize(strings.ToLower(directive))
	for i := 1; i < len(words); i++ {
		if !queryMarkers[words[i]] {
			continue
		}
		prev := words[i-1]
		if queryStopWords[prev] || isNumber(prev) {
			continue
		}
		params[ParamQuery] = prev
		break
	}
	return params
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
