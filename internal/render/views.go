package render

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// View holds the rendering hints for one command.
type View struct {
	// ItemsPath names the member holding the rows when the body wraps them,
	// e.g. "Items" for paged query results.
	ItemsPath string
	// Columns are shown first, in order, when present. Dotted paths select nested fields.
	Columns []string
	// Summary fields are used by the plain format.
	Summary []string
	// Schema is the minimal JSON schema a body must satisfy. Empty disables the check.
	Schema string
	// Empty is printed for an empty body.
	Empty string

	compiled *jsonschema.Schema
}

func listOf(required ...string) string {
	return fmt.Sprintf(`{"type":"array","items":{"type":"object","required":[%s]}}`, quoteAll(required))
}

func pagedListOf(required ...string) string {
	return fmt.Sprintf(`{"type":"object","required":["Items"],"properties":{"Items":%s}}`, listOf(required...))
}

func objectWith(required ...string) string {
	return fmt.Sprintf(`{"type":"object","required":[%s]}`, quoteAll(required))
}

func quoteAll(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = fmt.Sprintf("%q", f)
	}
	return strings.Join(quoted, ",")
}

var userView = &View{
	Columns: []string{"Name", "Id", "Policy.IsAdministrator", "Policy.IsDisabled", "LastActivityDate"},
	Summary: []string{"Name", "Id"},
	Schema:  objectWith("Name", "Id"),
}

var views = map[string]*View{
	"login": {
		Columns: []string{"ServerName", "Version", "Id"},
		Summary: []string{"ServerName", "Version"},
		Schema:  objectWith("Version"),
	},
	"login password": {
		Columns: []string{"User.Name", "User.Id", "ServerId"},
		Summary: []string{"User.Name"},
		Schema:  `{"type":"object","required":["AccessToken","User"],"properties":{"User":{"type":"object","required":["Id"]}}}`,
	},
	"server info": {
		Columns: []string{"ServerName", "Version", "Id", "OperatingSystem", "LocalAddress"},
		Summary: []string{"ServerName", "Version"},
		Schema:  objectWith("Version"),
	},
	"server restart":  {Empty: "Server restart requested."},
	"server shutdown": {Empty: "Server shutdown requested."},

	"users list": {
		Columns: userView.Columns,
		Summary: []string{"Name"},
		Schema:  listOf("Name", "Id"),
		Empty:   "No users.",
	},
	"users get":          userView,
	"users me":           userView,
	"users add":          userView,
	"users delete":       {Empty: "User deleted."},
	"users set-password": {Empty: "Password updated."},
	"users set-policy":   {Empty: "Policy updated."},
	"users update":       {Empty: "User updated."},
	"users items": {
		ItemsPath: "Items",
		Columns:   []string{"Name", "Id", "Type", "ProductionYear"},
		Summary:   []string{"Name"},
		Schema:    pagedListOf("Name", "Id"),
		Empty:     "No items found.",
	},

	"devices list": {
		ItemsPath: "Items",
		Columns:   []string{"Name", "Id", "AppName", "LastUserName", "DateLastActivity"},
		Summary:   []string{"Name"},
		Schema:    pagedListOf("Id"),
		Empty:     "No devices.",
	},
	"devices delete": {Empty: "Device deleted."},

	"libraries list": {
		Columns: []string{"Name", "ItemId", "CollectionType", "Locations"},
		Summary: []string{"Name"},
		Schema:  listOf("Name"),
		Empty:   "No libraries.",
	},
	"libraries add":  {Empty: "Library added."},
	"libraries scan": {Empty: "Library scan started."},

	"items search": {
		ItemsPath: "Items",
		Columns:   []string{"Name", "Id", "Type", "ProductionYear", "Path"},
		Summary:   []string{"Name"},
		Schema:    pagedListOf("Name", "Id"),
		Empty:     "No items found.",
	},
	"items update":    {Empty: "Item updated."},
	"items set-image": {Empty: "Image uploaded."},

	"tasks list": {
		Columns: []string{"Name", "Id", "State", "Category", "LastExecutionResult.Status"},
		Summary: []string{"Name"},
		Schema:  listOf("Name", "Id"),
	},
	"tasks run":  {Empty: "Task started."},
	"tasks stop": {Empty: "Task stopped."},

	"plugins list": {
		Columns: []string{"Name", "Version", "Id", "Status"},
		Summary: []string{"Name"},
		Schema:  listOf("Name"),
		Empty:   "No plugins installed.",
	},
	"packages list": {
		Columns: []string{"name", "category", "owner", "guid"},
		Summary: []string{"name"},
		Schema:  listOf("name"),
	},
	"packages install": {Empty: "Package installation queued."},

	"repositories list": {
		Columns: []string{"Name", "Url", "Enabled"},
		Summary: []string{"Name"},
		Schema:  listOf("Url"),
		Empty:   "No repositories.",
	},
	"repositories set": {Empty: "Repositories updated."},

	"logs list": {
		Columns: []string{"Name", "Size", "DateModified"},
		Summary: []string{"Name"},
		Schema:  listOf("Name"),
	},
	"logs show": {},

	"activity list": {
		ItemsPath: "Items",
		Columns:   []string{"Date", "Name", "Type", "Severity", "ShortOverview"},
		Summary:   []string{"Name"},
		Schema:    pagedListOf("Name"),
		Empty:     "No activity.",
	},

	"keys list": {
		ItemsPath: "Items",
		Columns:   []string{"AppName", "AccessToken", "DateCreated"},
		Summary:   []string{"AppName"},
		Schema:    pagedListOf("AccessToken"),
		Empty:     "No API keys.",
	},
	"keys create": {Empty: "API key created."},
	"keys revoke": {Empty: "API key revoked."},
}

var defaultView = &View{Empty: "Done."}

func init() {
	for name, v := range views {
		if v.Schema == "" || v.compiled != nil {
			continue
		}
		s, err := compileSchema(v.Schema)
		if err != nil {
			panic(fmt.Sprintf("view %q: %v", name, err))
		}
		v.compiled = s
	}
}

func compileSchema(schema string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline://schema", strings.NewReader(schema)); err != nil {
		return nil, err
	}
	return compiler.Compile("inline://schema")
}

// ViewFor returns the view registered for command, or a default view.
func ViewFor(command string) *View {
	if v, ok := views[command]; ok {
		return v
	}
	return defaultView
}

// Register adds or replaces the view for command. Workflows use it for commands that
// do not map onto a single route.
func Register(command string, v *View) error {
	if v.Schema != "" {
		s, err := compileSchema(v.Schema)
		if err != nil {
			return fmt.Errorf("invalid schema for %q: %w", command, err)
		}
		v.compiled = s
	}
	views[command] = v
	return nil
}
