// Package stealth builds the init script injected into every browser
// context before page scripts run. It masks the standard automation tells
// and pins the JS-visible identity to the session's fingerprint profile.
package stealth

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/korvuslabs/prowl/internal/fingerprint"
)

//go:embed evasions.js
var evasionsJS string

const personaToken = "__PERSONA__"

// Script renders the evasion script for the given fingerprint profile.
func Script(profile fingerprint.Profile) (string, error) {
	persona := map[string]any{
		"platform":  profile.Platform,
		"languages": profile.Languages,
	}
	blob, err := json.Marshal(persona)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	if !strings.Contains(evasionsJS, personaToken) {
		return "", fmt.Errorf("evasion script is missing the persona placeholder")
	}
	return strings.Replace(evasionsJS, personaToken, string(blob), 1), nil
}
