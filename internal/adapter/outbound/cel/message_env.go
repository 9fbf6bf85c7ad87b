package cel

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/intentgate/intentgate/internal/domain/message"
)

// NewMessageEnvironment creates a CEL environment with one variable per
// message field and a few helper functions:
//   - Variables: action, data_uri, mime_type, component, categories, extras, flags, source_package
//   - Presence: has_action, has_data_uri, has_mime_type, has_component
//   - Functions: glob, mime_prefix
//
// Unset string fields evaluate to "", unset flags to 0.
func NewMessageEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("action", cel.StringType),
		cel.Variable("data_uri", cel.StringType),
		cel.Variable("mime_type", cel.StringType),
		cel.Variable("component", cel.StringType),
		cel.Variable("categories", cel.ListType(cel.StringType)),
		cel.Variable("extras", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("flags", cel.IntType),
		cel.Variable("source_package", cel.StringType),

		cel.Variable("has_action", cel.BoolType),
		cel.Variable("has_data_uri", cel.BoolType),
		cel.Variable("has_mime_type", cel.BoolType),
		cel.Variable("has_component", cel.BoolType),

		// glob: shell-style pattern match, e.g. glob("com.example.*", source_package)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// mime_prefix: the part of a mime type before "/", lower-cased.
		cel.Function("mime_prefix",
			cel.Overload("mime_prefix_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					s, ok := val.Value().(string)
					if !ok {
						return types.String("")
					}
					prefix, _, _ := strings.Cut(s, "/")
					return types.String(strings.ToLower(prefix))
				}),
			),
		),
	)
}

// BuildActivation maps a message onto the environment variables.
func BuildActivation(msg *message.Message) map[string]any {
	if msg == nil {
		msg = &message.Message{}
	}
	component, hasComponent := msg.FlatComponent()

	categories := msg.Categories
	if categories == nil {
		categories = []string{}
	}

	extras := make(map[string]any, len(msg.Extras))
	for k, v := range msg.Extras {
		extras[k] = nativeValue(v)
	}

	return map[string]any{
		"action":         msg.Action.OrElse(""),
		"data_uri":       msg.DataURI.OrElse(""),
		"mime_type":      msg.MimeType.OrElse(""),
		"component":      component,
		"categories":     categories,
		"extras":         extras,
		"flags":          int64(msg.Flags.OrElse(0)),
		"source_package": msg.SourcePackage.OrElse(""),
		"has_action":     msg.Action.IsSet(),
		"has_data_uri":   msg.DataURI.IsSet(),
		"has_mime_type":  msg.MimeType.IsSet(),
		"has_component":  hasComponent,
	}
}

// nativeValue widens extra values to the types CEL understands.
func nativeValue(v message.TypedValue) any {
	switch x := v.Value.(type) {
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case string, bool, int64, float64, []byte:
		return x
	}
	return v.String()
}
