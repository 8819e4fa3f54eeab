package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"time"

	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/internal/common/httpclient"
	"github.com/jellyroller/jellyroller/internal/common/uuid"
	"github.com/jellyroller/jellyroller/internal/dispatch"
	"github.com/jellyroller/jellyroller/internal/render"
	"github.com/jellyroller/jellyroller/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func init() {
	mustRegister("users policy", &render.View{
		Columns: []string{"Name", "Id"},
		Summary: []string{"Name", "IsDisabled", "IsAdministrator"},
		Schema:  `{"type":"object","required":["Name","Id"]}`,
	})
	mustRegister("users add-bulk", &render.View{
		Columns: []string{"Name", "Id"},
		Summary: []string{"Name"},
		Schema:  `{"type":"array","items":{"type":"object","required":["Name","Id"]}}`,
		Empty:   "No users created.",
	})
	mustRegister("devices purge", &render.View{
		Columns: []string{"Name", "Id", "AppName", "Deleted"},
		Summary: []string{"Name"},
		Schema:  `{"type":"array","items":{"type":"object","required":["Id","Deleted"]}}`,
		Empty:   "No devices to remove.",
	})
	mustRegister("users update-bulk", &render.View{
		Columns: []string{"Name", "Id"},
		Summary: []string{"Name"},
		Schema:  `{"type":"array","items":{"type":"object","required":["Id"]}}`,
		Empty:   "No users updated.",
	})
	mustRegister("items report", &render.View{
		Columns: []string{"Name", "DateAdded", "PremiereDate", "ProductionYear", "Genres", "OfficialRating", "CommunityRating", "RuntimeMinutes", "Resolution", "HasSubtitles", "Path"},
		Summary: []string{"Name"},
		Schema:  `{"type":"array","items":{"type":"object","required":["Name"]}}`,
		Empty:   "No movies found.",
	})
	mustRegister("server report", &render.View{
		Columns: []string{"ServerName", "JellyfinVersion", "JellyfinOS", "MinimumVersion", "Compatible", "JellyrollerVersion", "JellyrollerOS", "Architecture"},
		Summary: []string{"JellyfinVersion", "Compatible"},
		Schema:  `{"type":"object","required":["JellyfinVersion","Compatible"]}`,
	})
}

// workflowCmd is a command that chains several routes, added to the group it names.
type workflowCmd struct {
	group string
	cmd   *cobra.Command
}

func (a *App) newWorkflowCmds() []workflowCmd {
	return []workflowCmd{
		{"users", a.newPolicyCmd("enable", "Enable a user", "IsDisabled", false)},
		{"users", a.newPolicyCmd("disable", "Disable a user", "IsDisabled", true)},
		{"users", a.newPolicyCmd("grant-admin", "Give a user administrator rights", "IsAdministrator", true)},
		{"users", a.newPolicyCmd("revoke-admin", "Remove administrator rights from a user", "IsAdministrator", false)},
		{"users", a.newAddBulkCmd()},
		{"users", a.newUpdateBulkCmd()},
		{"items", a.newSetImageByNameCmd()},
		{"items", a.newMovieReportCmd()},
		{"devices", a.newPurgeCmd()},
		{"repositories", a.newRepositoryAddCmd()},
		{"server", a.newReportCmd()},
	}
}

// newPolicyCmd toggles one policy field with a read-modify-write of the user's policy.
// Every other policy field is sent back unchanged.
func (a *App) newPolicyCmd(verb, short, field string, value bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name-or-id>",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession("users " + verb); err != nil {
				return err
			}
			id, err := a.resolveUser(ctx, args[0])
			if err != nil {
				return err
			}
			user, err := a.execute(ctx, dispatch.Command{Name: "users get", Args: []string{id}})
			if err != nil {
				return err
			}
			if err := a.expect("users get", user); err != nil {
				return err
			}
			policy := gjson.GetBytes(user.Raw, "Policy")
			if !policy.IsObject() {
				a.printRaw(user.Raw)
				return &apperrors.RenderError{Command: "users get", Reason: "user has no Policy object", Raw: user.Raw}
			}
			updated, err := sjson.SetBytes([]byte(policy.Raw), field, value)
			if err != nil {
				return err
			}
			if _, err := a.execute(ctx, dispatch.Command{Name: "users set-policy", Args: []string{id}, Input: updated}); err != nil {
				return err
			}
			log.Debug().Str("user", id).Str("field", field).Bool("value", value).Msg("policy updated")

			doc, err := jsonDoc(
				docField{"Name", gjson.GetBytes(user.Raw, "Name").String()},
				docField{"Id", id},
				docField{"Policy", json.RawMessage(updated)},
				docField{"IsDisabled", gjson.GetBytes(updated, "IsDisabled").Bool()},
				docField{"IsAdministrator", gjson.GetBytes(updated, "IsAdministrator").Bool()},
			)
			if err != nil {
				return err
			}
			return a.output("users policy", httpclient.NewResponse(200, "application/json", doc))
		},
	}
}

// newAddBulkCmd creates users from "name,password" lines. Every line is validated
// before the first user is created.
func (a *App) newAddBulkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-bulk <file>",
		Short: "Create users from a file of name,password lines",
		Long: `Create users from a file with one "name,password" pair per line. Blank lines and
lines starting with # are ignored. Use - to read from standard input.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession("users add-bulk"); err != nil {
				return err
			}
			data, err := LoadInputBytes(args[0], a.stdin)
			if err != nil {
				return err
			}
			cmds, err := parseUserLines(data)
			if err != nil {
				return err
			}
			for i, c := range cmds {
				if _, err := a.dispatcher.Dispatch(c); err != nil {
					return fmt.Errorf("entry %d (%s): %w", i+1, c.Args[0], err)
				}
			}

			created := []byte(`[]`)
			for i, c := range cmds {
				resp, err := a.execute(ctx, c)
				if err != nil {
					return fmt.Errorf("created %d of %d users; %q failed: %w", i, len(cmds), c.Args[0], err)
				}
				row, err := jsonDoc(docField{"Name", c.Args[0]}, docField{"Id", gjson.GetBytes(resp.Raw, "Id").String()})
				if err != nil {
					return err
				}
				if created, err = sjson.SetRawBytes(created, "-1", row); err != nil {
					return err
				}
			}
			return a.output("users add-bulk", httpclient.NewResponse(200, "application/json", created))
		},
	}
}

// parseUserLines turns "name,password" lines into users add commands.
func parseUserLines(data []byte) ([]dispatch.Command, error) {
	var cmds []dispatch.Command
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		name, password, ok := strings.Cut(text, ",")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, apperrors.Usagef("line %d: expected name,password", line)
		}
		cmds = append(cmds, dispatch.Command{Name: "users add", Args: []string{name, strings.TrimSpace(password)}})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	if len(cmds) == 0 {
		return nil, apperrors.Usagef("no users found in input")
	}
	return cmds, nil
}

// userEntry is one user document of an update-bulk input. ref is its Id, or its Name
// when the document has no Id.
type userEntry struct {
	ref string
	doc []byte
}

// newUpdateBulkCmd replaces the configuration of the users in a document. Every entry
// is validated and resolved to an id before the first user is updated.
func (a *App) newUpdateBulkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-bulk <file>",
		Short: "Update users from a JSON or YAML document",
		Long: `Update users from a user document or an array of them, in JSON or YAML. Each
document replaces the configuration of the user with its Id, or of the user with its
Name when it has no Id. Use - to read from standard input.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession("users update-bulk"); err != nil {
				return err
			}
			data, err := LoadInputDocument(args[0], a.stdin)
			if err != nil {
				return err
			}
			entries, err := parseUserDocs(data)
			if err != nil {
				return err
			}
			cmds := make([]dispatch.Command, len(entries))
			for i, e := range entries {
				cmds[i] = dispatch.Command{Name: "users update", Args: []string{e.ref}, Input: e.doc}
				if err := a.dispatcher.Check(cmds[i], "id"); err != nil {
					return fmt.Errorf("entry %d (%s): %w", i+1, e.ref, err)
				}
			}
			for i := range cmds {
				id, err := a.resolveUser(ctx, cmds[i].Args[0])
				if err != nil {
					return fmt.Errorf("entry %d: %w", i+1, err)
				}
				// The server matches the document against the user in the path.
				if cmds[i].Input, err = sjson.SetBytes(cmds[i].Input, "Id", id); err != nil {
					return fmt.Errorf("entry %d: %w", i+1, err)
				}
				cmds[i].Args = []string{id}
			}

			updated := []byte(`[]`)
			for i, c := range cmds {
				if _, err := a.execute(ctx, c); err != nil {
					return fmt.Errorf("updated %d of %d users; %q failed: %w", i, len(cmds), entries[i].ref, err)
				}
				row, err := jsonDoc(docField{"Name", gjson.GetBytes(c.Input, "Name").String()}, docField{"Id", c.Args[0]})
				if err != nil {
					return err
				}
				if updated, err = sjson.SetRawBytes(updated, "-1", row); err != nil {
					return err
				}
			}
			return a.output("users update-bulk", httpclient.NewResponse(200, "application/json", updated))
		},
	}
}

// parseUserDocs splits a user document, or an array of them, into entries.
func parseUserDocs(data []byte) ([]userEntry, error) {
	doc := gjson.ParseBytes(data)
	var docs []gjson.Result
	switch {
	case doc.IsArray():
		docs = doc.Array()
	case doc.IsObject():
		docs = []gjson.Result{doc}
	default:
		return nil, apperrors.Usagef("expected a user document or an array of them")
	}
	if len(docs) == 0 {
		return nil, apperrors.Usagef("no users found in input")
	}
	entries := make([]userEntry, 0, len(docs))
	for i, d := range docs {
		if !d.IsObject() {
			return nil, apperrors.Usagef("entry %d: expected an object", i+1)
		}
		ref := d.Get("Id").String()
		if ref == "" {
			ref = d.Get("Name").String()
		}
		if ref == "" {
			return nil, apperrors.Usagef("entry %d: needs an Id or a Name", i+1)
		}
		entries = append(entries, userEntry{ref: ref, doc: []byte(d.Raw)})
	}
	return entries, nil
}

// newSetImageByNameCmd uploads an image for the item whose title matches the search.
// The search must find one item, or one item whose name is the title.
func (a *App) newSetImageByNameCmd() *cobra.Command {
	var file, imageType string
	cmd := &cobra.Command{
		Use:   "set-image-by-name <title> --file <path>",
		Short: "Upload an image for the item with a title",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession("items set-image-by-name"); err != nil {
				return err
			}
			if file == "" {
				return &apperrors.UsageError{Msg: "flag --file is required", Usage: "usage: " + cmd.UseLine()}
			}
			image, err := LoadInputBytes(file, a.stdin)
			if err != nil {
				return err
			}
			title := args[0]
			upload := dispatch.Command{Name: "items set-image", Args: []string{title, imageType}, Input: image}
			if err := a.dispatcher.Check(upload, "id"); err != nil {
				return err
			}

			found, err := a.execute(ctx, dispatch.Command{Name: "items search", Flags: map[string]string{"term": title}})
			if err != nil {
				return err
			}
			if err := a.expect("items search", found); err != nil {
				return err
			}
			id, err := uniqueItem(gjson.GetBytes(found.Raw, "Items").Array(), title)
			if err != nil {
				return err
			}
			log.Debug().Str("title", title).Str("id", id).Msg("resolved item")
			upload.Args[0] = id
			resp, err := a.execute(ctx, upload)
			if err != nil {
				return err
			}
			return a.output("items set-image", resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Image file to upload, or - for stdin")
	cmd.Flags().StringVar(&imageType, "type", "Primary", "Image type, e.g. Primary, Backdrop or Logo")
	return cmd
}

// uniqueItem returns the id of the only item found for title. Among several, an item
// named exactly title (ignoring case) is used when there is one.
func uniqueItem(items []gjson.Result, title string) (string, error) {
	if len(items) == 1 {
		return items[0].Get("Id").String(), nil
	}
	if len(items) == 0 {
		return "", &apperrors.UsageError{
			Msg:   fmt.Sprintf("no item matches %q", title),
			Usage: "run 'jellyroller items search --term <title>' to find the item",
		}
	}
	var exact []gjson.Result
	for _, it := range items {
		if strings.EqualFold(it.Get("Name").String(), title) {
			exact = append(exact, it)
		}
	}
	if len(exact) == 1 {
		return exact[0].Get("Id").String(), nil
	}
	return "", &apperrors.UsageError{
		Msg:   fmt.Sprintf("%d items match %q; the title must match one item", len(items), title),
		Usage: "use 'jellyroller items set-image <id> <type>' with an id from 'jellyroller items search'",
	}
}

// movieFields are requested on top of the fields Jellyfin returns by default.
const movieFields = "DateCreated,Genres,Path"

// newMovieReportCmd lists the movies in the library of the authenticated user.
func (a *App) newMovieReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Report the movies in the library",
		Long: `Report the movies visible to the authenticated user with their dates, genres,
ratings, runtime, resolution and path. Use -o csv --out <file> to export the report.`,
		Args: noUnknownArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession("items report"); err != nil {
				return err
			}
			me, err := a.execute(ctx, dispatch.Command{Name: "users me"})
			if err != nil {
				return err
			}
			if err := a.expect("users me", me); err != nil {
				return err
			}
			userID := gjson.GetBytes(me.Raw, "Id").String()
			list, err := a.execute(ctx, dispatch.Command{
				Name:  "users items",
				Args:  []string{userID},
				Flags: map[string]string{"type": "Movie", "fields": movieFields},
			})
			if err != nil {
				return err
			}
			if err := a.expect("users items", list); err != nil {
				return err
			}
			doc, err := movieReport(gjson.GetBytes(list.Raw, "Items").Array())
			if err != nil {
				return err
			}
			return a.output("items report", httpclient.NewResponse(200, "application/json", doc))
		},
	}
}

// ticksPerMinute converts Jellyfin run times, counted in 100ns ticks.
const ticksPerMinute = 600_000_000

func movieReport(movies []gjson.Result) ([]byte, error) {
	report := []byte(`[]`)
	for _, m := range movies {
		var genres []string
		for _, g := range m.Get("Genres").Array() {
			genres = append(genres, g.String())
		}
		resolution := ""
		if w, h := m.Get("Width").Int(), m.Get("Height").Int(); w > 0 && h > 0 {
			resolution = fmt.Sprintf("%dx%d", w, h)
		}
		row, err := jsonDoc(
			docField{"Name", m.Get("Name").String()},
			docField{"DateAdded", m.Get("DateCreated").String()},
			docField{"PremiereDate", m.Get("PremiereDate").String()},
			docField{"ProductionYear", m.Get("ProductionYear").Int()},
			docField{"Genres", strings.Join(genres, ", ")},
			docField{"OfficialRating", m.Get("OfficialRating").String()},
			docField{"CommunityRating", m.Get("CommunityRating").Float()},
			docField{"RuntimeMinutes", m.Get("RunTimeTicks").Int() / ticksPerMinute},
			docField{"Resolution", resolution},
			docField{"HasSubtitles", m.Get("HasSubtitles").Bool()},
			docField{"Path", m.Get("Path").String()},
		)
		if err != nil {
			return nil, err
		}
		if report, err = sjson.SetRawBytes(report, "-1", row); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// activeWindow is how recently a device must have been used to count as active.
const activeWindow = time.Hour

// filterResponse applies the client side filters of c to resp. Only devices list
// --active has one: the server has no query for it.
func filterResponse(c dispatch.Command, resp *api.ApiResponse, now time.Time) (*api.ApiResponse, error) {
	if c.Name != "devices list" || c.Flags["active"] != "true" || resp.Text {
		return resp, nil
	}
	items := gjson.GetBytes(resp.Raw, "Items")
	if !items.IsArray() {
		// Left for the renderer to report.
		return resp, nil
	}
	since := now.Add(-activeWindow)
	kept := []byte(`[]`)
	count := 0
	var err error
	for _, d := range items.Array() {
		last, ok := parseDate(d.Get("DateLastActivity").String())
		if !ok || last.Before(since) {
			continue
		}
		if kept, err = sjson.SetRawBytes(kept, "-1", []byte(d.Raw)); err != nil {
			return nil, err
		}
		count++
	}
	raw, err := sjson.SetRawBytes(resp.Raw, "Items", kept)
	if err != nil {
		return nil, err
	}
	if gjson.GetBytes(raw, "TotalRecordCount").Exists() {
		if raw, err = sjson.SetBytes(raw, "TotalRecordCount", count); err != nil {
			return nil, err
		}
	}
	log.Debug().Int("devices", len(items.Array())).Int("active", count).Msg("filtered devices")
	return httpclient.NewResponse(resp.StatusCode, resp.ContentType, raw), nil
}

// parseDate reads a Jellyfin timestamp. Dates without a zone are UTC.
func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// newPurgeCmd deletes every device of a user except the one this session uses.
func (a *App) newPurgeCmd() *cobra.Command {
	var user string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "purge --user <name-or-id>",
		Short: "Delete all devices of a user",
		Args:  noUnknownArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession("devices purge"); err != nil {
				return err
			}
			if user == "" {
				return &apperrors.UsageError{Msg: "flag --user is required", Usage: "usage: " + cmd.UseLine()}
			}
			id, err := a.resolveUser(ctx, user)
			if err != nil {
				return err
			}
			list, err := a.execute(ctx, dispatch.Command{Name: "devices list", Flags: map[string]string{"user": id}})
			if err != nil {
				return err
			}
			if err := a.expect("devices list", list); err != nil {
				return err
			}

			own := a.dispatcher.Session().DeviceID
			removed := []byte(`[]`)
			for _, d := range gjson.GetBytes(list.Raw, "Items").Array() {
				deviceID := d.Get("Id").String()
				if deviceID == own {
					log.Debug().Str("device", deviceID).Msg("skipping the current device")
					continue
				}
				if !dryRun {
					if _, err := a.execute(ctx, dispatch.Command{Name: "devices delete", Args: []string{deviceID}}); err != nil {
						return fmt.Errorf("deleting device %s: %w", deviceID, err)
					}
				}
				row, err := jsonDoc(
					docField{"Name", d.Get("Name").String()},
					docField{"Id", deviceID},
					docField{"AppName", d.Get("AppName").String()},
					docField{"Deleted", !dryRun},
				)
				if err != nil {
					return err
				}
				if removed, err = sjson.SetRawBytes(removed, "-1", row); err != nil {
					return err
				}
			}
			return a.output("devices purge", httpclient.NewResponse(200, "application/json", removed))
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User name or id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the devices without deleting them")
	return cmd
}

// newRepositoryAddCmd appends a repository to the server's list.
func (a *App) newRepositoryAddCmd() *cobra.Command {
	var name, repoURL string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "add --name <name> --url <url>",
		Short: "Add a plugin repository",
		Args:  noUnknownArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession("repositories add"); err != nil {
				return err
			}
			if name == "" {
				return &apperrors.UsageError{Msg: "flag --name is required", Usage: "usage: " + cmd.UseLine()}
			}
			if err := api.Validator().Var(repoURL, "required,http_url"); err != nil {
				return &apperrors.UsageError{
					Msg:   fmt.Sprintf("invalid value for --url %q: expected an absolute http or https URL", repoURL),
					Usage: "usage: " + cmd.UseLine(),
				}
			}

			current, err := a.execute(ctx, dispatch.Command{Name: "repositories list"})
			if err != nil {
				return err
			}
			if err := a.expect("repositories list", current); err != nil {
				return err
			}
			list := current.Raw
			if !gjson.ParseBytes(list).IsArray() {
				list = []byte(`[]`)
			}
			if gjson.GetBytes(list, fmt.Sprintf("#(Url==%q)", repoURL)).Exists() {
				return apperrors.Usagef("repository %s is already configured", repoURL)
			}

			entry, err := jsonDoc(docField{"Name", name}, docField{"Url", repoURL}, docField{"Enabled", !disabled})
			if err != nil {
				return err
			}
			updated, err := sjson.SetRawBytes(list, "-1", entry)
			if err != nil {
				return err
			}
			resp, err := a.execute(ctx, dispatch.Command{Name: "repositories set", Input: updated})
			if err != nil {
				return err
			}
			return a.output("repositories set", resp)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Repository name")
	cmd.Flags().StringVar(&repoURL, "url", "", "Repository manifest URL")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Add the repository disabled")
	return cmd
}

// newReportCmd prints the details needed for an issue report and checks the server
// version against the supported range.
func (a *App) newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print version details for an issue report",
		Args:  noUnknownArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession("server report"); err != nil {
				return err
			}
			info, err := a.execute(cmd.Context(), dispatch.Command{Name: "server info"})
			if err != nil {
				return err
			}
			if err := a.expect("server info", info); err != nil {
				return err
			}
			doc, err := serverReport(info.Raw)
			if err != nil {
				return err
			}
			return a.output("server report", httpclient.NewResponse(200, "application/json", doc))
		},
	}
}

func serverReport(infoRaw []byte) ([]byte, error) {
	info := gjson.ParseBytes(infoRaw)
	serverOS := info.Get("OperatingSystemDisplayName").String()
	if serverOS == "" {
		serverOS = info.Get("OperatingSystem").String()
	}
	version := info.Get("Version").String()
	return jsonDoc(
		docField{"ServerName", info.Get("ServerName").String()},
		docField{"JellyfinVersion", version},
		docField{"JellyfinOS", serverOS},
		docField{"MinimumVersion", MinimumServerVersion},
		docField{"Compatible", IsServerCompatible(version)},
		docField{"JellyrollerVersion", Version},
		docField{"JellyrollerOS", runtime.GOOS},
		docField{"Architecture", runtime.GOARCH},
	)
}

// docField is one member of a document built by jsonDoc. A json.RawMessage value is
// inserted as is.
type docField struct {
	path  string
	value any
}

// jsonDoc builds an object from fields in order.
func jsonDoc(fields ...docField) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	for _, f := range fields {
		if raw, ok := f.value.(json.RawMessage); ok {
			doc, err = sjson.SetRawBytes(doc, f.path, raw)
		} else {
			doc, err = sjson.SetBytes(doc, f.path, f.value)
		}
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", f.path, err)
		}
	}
	return doc, nil
}

var (
	// Routes whose first argument is a user id.
	userArgRoutes = map[string]bool{
		"users get":          true,
		"users delete":       true,
		"users set-password": true,
		"users set-policy":   true,
		"users update":       true,
		"users items":        true,
	}
	// Routes whose first argument is a scheduled task id.
	taskArgRoutes = map[string]bool{
		"tasks run":  true,
		"tasks stop": true,
	}
)

// resolvedFields names the arguments and flags of command that resolveNames fills in.
func resolvedFields(command string) []string {
	switch {
	case userArgRoutes[command], taskArgRoutes[command]:
		return []string{"id"}
	case command == "devices list":
		return []string{"user"}
	}
	return nil
}

// resolveNames returns c with user and task names replaced by their ids.
func (a *App) resolveNames(ctx context.Context, c dispatch.Command) (dispatch.Command, error) {
	switch {
	case userArgRoutes[c.Name] && len(c.Args) > 0:
		id, err := a.resolveUser(ctx, c.Args[0])
		if err != nil {
			return c, err
		}
		c.Args = append([]string{id}, c.Args[1:]...)
	case taskArgRoutes[c.Name] && len(c.Args) > 0:
		id, err := a.resolveTask(ctx, c.Args[0])
		if err != nil {
			return c, err
		}
		c.Args = append([]string{id}, c.Args[1:]...)
	case c.Name == "devices list" && c.Flags["user"] != "":
		id, err := a.resolveUser(ctx, c.Flags["user"])
		if err != nil {
			return c, err
		}
		c.Flags = maps.Clone(c.Flags)
		c.Flags["user"] = id
	}
	return c, nil
}

// resolveUser returns the id of the user named nameOrID. Ids are returned unchanged.
func (a *App) resolveUser(ctx context.Context, nameOrID string) (string, error) {
	if nameOrID == "" || uuid.IsJellyfinID(nameOrID) {
		return nameOrID, nil
	}
	users, err := a.execute(ctx, dispatch.Command{Name: "users list"})
	if err != nil {
		return "", err
	}
	if err := a.expect("users list", users); err != nil {
		return "", err
	}
	id := findID(users.Raw, nameOrID, "Name")
	if id == "" {
		return "", &apperrors.UsageError{
			Msg:   fmt.Sprintf("no user named %q", nameOrID),
			Usage: "run 'jellyroller users list' to see the available users",
		}
	}
	log.Debug().Str("name", nameOrID).Str("id", id).Msg("resolved user")
	return id, nil
}

// resolveTask returns the id of the scheduled task whose name or key is nameOrID.
func (a *App) resolveTask(ctx context.Context, nameOrID string) (string, error) {
	if nameOrID == "" || uuid.IsJellyfinID(nameOrID) {
		return nameOrID, nil
	}
	tasks, err := a.execute(ctx, dispatch.Command{Name: "tasks list"})
	if err != nil {
		return "", err
	}
	if err := a.expect("tasks list", tasks); err != nil {
		return "", err
	}
	id := findID(tasks.Raw, nameOrID, "Name", "Key")
	if id == "" {
		return "", &apperrors.UsageError{
			Msg:   fmt.Sprintf("no scheduled task named %q", nameOrID),
			Usage: "run 'jellyroller tasks list' to see the available tasks",
		}
	}
	return id, nil
}

// findID returns the Id of the first element of the list whose fields match name,
// ignoring case.
func findID(list []byte, name string, fields ...string) string {
	var id string
	gjson.ParseBytes(list).ForEach(func(_, item gjson.Result) bool {
		for _, f := range fields {
			if strings.EqualFold(item.Get(f).String(), name) {
				id = item.Get("Id").String()
				return false
			}
		}
		return true
	})
	return id
}
