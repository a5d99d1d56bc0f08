package scrub

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist contains content regex patterns to exclude from secret
// detection. Mailing-list footers and tracking tokens routinely trip
// generic credential rules; operators list them here.
type Allowlist struct {
	Regexes []string
}

// LoadAllowlist loads an allowlist TOML file. A missing file yields an
// empty allowlist; an existing but invalid file is an error.
//
// The file uses the .gitleaks.toml allowlist shape:
//
//	[allowlist]
//	regexes = ['''list-id: \S+''']
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("stat allowlist: %w", err)
	}

	var file struct {
		Allowlist struct {
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	// Validate patterns fail-fast so Scrub never sees a bad one.
	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{Regexes: file.Allowlist.Regexes}, nil
}
