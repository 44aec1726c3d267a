package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// minPromptLen is the minimum payload length for prompt-backed kinds.
const minPromptLen = 20

// Kind describes one workflow instantiation: how its payload is validated
// locally, which remote action starts it, and which phase the run opens in.
type Kind struct {
	// ID is the kind identifier used in unit keys and on the CLI.
	ID string
	// Description is a one-line summary for listings.
	Description string
	// Action is the remote action name passed to Invoke.
	Action string
	// FirstPhase is the phase entered when a run starts: PhaseUploading for
	// file-backed kinds, PhaseValidating for prompt-backed ones.
	FirstPhase Phase
	// Validate checks the payload locally before any remote call. A non-nil
	// error puts the run directly into PhaseInvalid.
	Validate func(payload string) error
	// Args builds the invocation arguments from payload and settings.
	Args func(payload string, unit UnitKey, settings Settings) map[string]any
}

// importExtensions is the allow-list for smart-import files.
var importExtensions = map[string]bool{
	".csv": true, ".xlsx": true, ".xls": true, ".pdf": true,
	".png": true, ".jpg": true, ".jpeg": true,
}

func defaultArgs(payload string, unit UnitKey, settings Settings) map[string]any {
	args := map[string]any{
		"payload": payload,
		"course":  unit.Course,
		"episode": unit.Episode,
	}
	for k, v := range settings {
		args[k] = v
	}
	return args
}

func validatePrompt(what string) func(string) error {
	return func(payload string) error {
		trimmed := strings.TrimSpace(payload)
		if utf8.RuneCountInString(trimmed) < minPromptLen {
			return &ValidationError{
				Kind:   what,
				Reason: fmt.Sprintf("describe it in at least %d characters", minPromptLen),
			}
		}
		return nil
	}
}

// builtinKinds are the three product workflows.
var builtinKinds = map[string]Kind{
	"import": {
		ID:          "import",
		Description: "Smart import of an inventory spreadsheet or document",
		Action:      "import.upload",
		FirstPhase:  PhaseUploading,
		Validate: func(payload string) error {
			if strings.TrimSpace(payload) == "" {
				return &ValidationError{Kind: "import", Reason: "a file path is required"}
			}
			info, err := os.Stat(payload)
			if err != nil || info.IsDir() {
				return &ValidationError{Kind: "import", Reason: "file not found"}
			}
			ext := strings.ToLower(filepath.Ext(payload))
			if !importExtensions[ext] {
				return &ValidationError{Kind: "import", Reason: fmt.Sprintf("unsupported file type %q", ext)}
			}
			return nil
		},
		Args: func(payload string, unit UnitKey, settings Settings) map[string]any {
			args := defaultArgs(payload, unit, settings)
			args["filename"] = filepath.Base(payload)
			return args
		},
	},
	"deck": {
		ID:          "deck",
		Description: "Slide-deck generation from a lesson topic",
		Action:      "deck.generate",
		FirstPhase:  PhaseValidating,
		Validate:    validatePrompt("deck"),
		Args:        defaultArgs,
	},
	"video": {
		ID:          "video",
		Description: "Extra-class video generated from a student doubt",
		Action:      "video.generate",
		FirstPhase:  PhaseValidating,
		Validate:    validatePrompt("video"),
		Args:        defaultArgs,
	},
}

// KindByID looks up a registered kind.
func KindByID(id string) (Kind, bool) {
	k, ok := builtinKinds[id]
	return k, ok
}

// Kinds returns all registered kinds sorted by ID.
func Kinds() []Kind {
	out := make([]Kind, 0, len(builtinKinds))
	for _, k := range builtinKinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
