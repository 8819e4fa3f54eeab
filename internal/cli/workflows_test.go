package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/internal/common/httpclient"
	"github.com/jellyroller/jellyroller/internal/dispatch"
	"github.com/jellyroller/jellyroller/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestPolicyTogglePreservesOtherFields(t *testing.T) {
	fake, cfg := loggedIn(t)
	policy := `{"IsAdministrator":false,"IsDisabled":false,"EnableRemoteAccess":true,"BlockedTags":["horror"],"MaxActiveSessions":3}`
	id := fake.AddUser("alice", "pw", policy)

	r := run(t, cfg, "", "users", "disable", "Alice")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "alice")

	user, ok := fake.User("alice")
	require.True(t, ok)
	assert.JSONEq(t, `{"IsAdministrator":false,"IsDisabled":true,"EnableRemoteAccess":true,"BlockedTags":["horror"],"MaxActiveSessions":3}`, string(user.Policy))

	r = run(t, cfg, "", "users", "grant-admin", id, "-o", "plain")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, "Name=alice IsDisabled=true IsAdministrator=true\n", r.stdout)

	requests := fake.Requests()
	assert.Equal(t, []string{"GET /Users/" + id, "POST /Users/" + id + "/Policy"}, requests[len(requests)-2:])
}

func TestUnknownUserName(t *testing.T) {
	_, cfg := loggedIn(t)
	r := run(t, cfg, "", "users", "get", "nobody")
	assert.Equal(t, apperrors.ExitUsage, r.code)
	assert.Contains(t, r.stderr, `no user named "nobody"`)
}

func TestNamedCommandValidatedBeforeLookup(t *testing.T) {
	fake, cfg := loggedIn(t)
	before := len(fake.Requests())

	r := run(t, cfg, "", "users", "set-password", "alice")
	assert.Equal(t, apperrors.ExitUsage, r.code)
	assert.Contains(t, r.stderr, `"users set-password" takes 2 argument(s), got 1`)

	r = run(t, cfg, "", "users", "update", "alice")
	assert.Equal(t, apperrors.ExitUsage, r.code)
	assert.Contains(t, r.stderr, "requires an input document")
	assert.Len(t, fake.Requests(), before)
}

func TestUsersGetByName(t *testing.T) {
	fake, cfg := loggedIn(t)
	id := fake.AddUser("bob", "", `{"IsAdministrator":false}`)

	r := run(t, cfg, "", "users", "get", "bob", "-o", "json")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, id, gjson.Get(r.stdout, "Id").String())
	assert.Contains(t, fake.Requests(), "GET /Users/"+id)
}

func TestAddBulk(t *testing.T) {
	fake, cfg := loggedIn(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("bob,pw1\ndave\n"), 0o600))
	before := len(fake.Requests())
	r := run(t, cfg, "", "users", "add-bulk", bad)
	assert.Equal(t, apperrors.ExitUsage, r.code)
	assert.Contains(t, r.stderr, "line 2")
	assert.Len(t, fake.Requests(), before)

	good := filepath.Join(dir, "users.txt")
	require.NoError(t, os.WriteFile(good, []byte("# new staff\nbob,pw1\n\ncarol, pw2\n"), 0o600))
	r = run(t, cfg, "", "users", "add-bulk", good, "-o", "plain")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, "bob, carol (2)\n", r.stdout)

	carol, ok := fake.User("carol")
	require.True(t, ok)
	assert.Equal(t, "pw2", carol.Password)

	// An existing name fails on the server after the earlier lines were created.
	dup := filepath.Join(dir, "dup.txt")
	require.NoError(t, os.WriteFile(dup, []byte("erin,pw\nbob,pw\n"), 0o600))
	r = run(t, cfg, "", "users", "add-bulk", dup)
	assert.Equal(t, apperrors.ExitRemote, r.code)
	assert.Contains(t, r.stderr, "created 1 of 2 users")
}

func TestParseUserLines(t *testing.T) {
	cmds, err := parseUserLines([]byte("  alice , s3cret \n#skip\n\nbob,\n"))
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, []string{"alice", "s3cret"}, cmds[0].Args)
	assert.Equal(t, []string{"bob", ""}, cmds[1].Args)

	_, err = parseUserLines([]byte("# only comments\n"))
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))

	_, err = parseUserLines([]byte(",pw\n"))
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))
}

func TestDevicesPurgeSkipsOwnDevice(t *testing.T) {
	fake, cfg := loggedIn(t)
	own := loadSession(t, cfg).DeviceID
	admin, ok := fake.User("admin")
	require.True(t, ok)
	other := fake.AddUser("bob", "", `{}`)
	fake.Update(func(f *testutil.Jellyfin) {
		f.Devices = []testutil.Device{
			{Name: "this laptop", Id: own, AppName: "jellyroller", UserId: admin.Id},
			{Name: "living room", Id: "tv-1", AppName: "Jellyfin Android TV", UserId: admin.Id},
			{Name: "phone", Id: "phone-1", AppName: "Jellyfin iOS", UserId: other},
		}
	})

	r := run(t, cfg, "", "devices", "purge", "--user", "admin", "--dry-run", "-o", "json")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.JSONEq(t, `[{"Name":"living room","Id":"tv-1","AppName":"Jellyfin Android TV","Deleted":false}]`, r.stdout)

	r = run(t, cfg, "", "devices", "purge", "--user", "admin")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)

	var remaining []string
	fake.Update(func(f *testutil.Jellyfin) {
		for _, d := range f.Devices {
			remaining = append(remaining, d.Id)
		}
	})
	assert.Equal(t, []string{own, "phone-1"}, remaining)
	assert.Contains(t, fake.Requests(), "DELETE /Devices?id=tv-1")
}

func TestDevicesListByUserName(t *testing.T) {
	fake, cfg := loggedIn(t)
	admin, _ := fake.User("admin")

	r := run(t, cfg, "", "devices", "list", "--user", "admin")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, "No devices.\n", r.stdout)
	assert.Contains(t, fake.Requests(), "GET /Devices?userId="+admin.Id)
}

func TestRepositoriesAdd(t *testing.T) {
	fake, cfg := loggedIn(t)

	r := run(t, cfg, "", "repositories", "add", "--name", "Local", "--url", "https://repo.local/manifest.json")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, "Repositories updated.\n", r.stdout)

	var repos json.RawMessage
	fake.Update(func(f *testutil.Jellyfin) { repos = f.Repos })
	assert.JSONEq(t, `[
		{"Name":"Jellyfin Stable","Url":"https://repo.jellyfin.org/files/plugin/manifest.json","Enabled":true},
		{"Enabled":true,"Name":"Local","Url":"https://repo.local/manifest.json"}
	]`, string(repos))

	r = run(t, cfg, "", "repositories", "add", "--name", "Again", "--url", "https://repo.local/manifest.json")
	assert.Equal(t, apperrors.ExitUsage, r.code)
	assert.Contains(t, r.stderr, "already configured")
}

func TestServerReport(t *testing.T) {
	fake, cfg := loggedIn(t)

	r := run(t, cfg, "", "server", "report", "-o", "json")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, "10.9.11", gjson.Get(r.stdout, "JellyfinVersion").String())
	assert.True(t, gjson.Get(r.stdout, "Compatible").Bool())
	assert.Equal(t, Version, gjson.Get(r.stdout, "JellyrollerVersion").String())

	fake.Update(func(f *testutil.Jellyfin) { f.Version = "10.7.7" })
	r = run(t, cfg, "", "server", "report", "-o", "plain")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, "JellyfinVersion=10.7.7 Compatible=false\n", r.stdout)
}

func TestTasksRunByKey(t *testing.T) {
	fake, cfg := loggedIn(t)
	id := "7738148ffcd07979c7ceb148e06b3aed"
	fake.Update(func(f *testutil.Jellyfin) {
		f.Tasks = []testutil.Task{{Name: "Scan Media Library", Id: id, Key: "RefreshLibrary", State: "Idle"}}
	})

	r := run(t, cfg, "", "tasks", "run", "refreshlibrary")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, "Task started.\n", r.stdout)
	fake.Update(func(f *testutil.Jellyfin) { assert.Equal(t, "Running", f.Tasks[0].State) })

	r = run(t, cfg, "", "tasks", "run", "Scan Media Library")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)

	r = run(t, cfg, "", "tasks", "run", "Nope")
	assert.Equal(t, apperrors.ExitUsage, r.code)
}

func TestIsServerCompatible(t *testing.T) {
	assert.True(t, IsServerCompatible("10.8.0"))
	assert.True(t, IsServerCompatible("10.10.3"))
	assert.False(t, IsServerCompatible("10.7.7"))
	assert.False(t, IsServerCompatible("not a version"))
}

func TestJSONDoc(t *testing.T) {
	doc, err := jsonDoc(docField{"Name", "alice"}, docField{"Policy", json.RawMessage(`{"IsDisabled":true}`)}, docField{"Count", 2})
	require.NoError(t, err)
	assert.Equal(t, `{"Name":"alice","Policy":{"IsDisabled":true},"Count":2}`, string(doc))

	_, err = jsonDoc(docField{"", "x"})
	assert.Error(t, err)
}

func TestUpdateBulk(t *testing.T) {
	fake, cfg := loggedIn(t)
	aliceID := fake.AddUser("alice", "pw", `{}`)
	bobID := fake.AddUser("bob", "pw", `{}`)
	dir := t.TempDir()

	in := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(in, []byte(`[
		{"Name":"Alice","Configuration":{"SubtitleMode":"Always"}},
		{"Id":"`+bobID+`","Name":"robert"}
	]`), 0o600))
	r := run(t, cfg, "", "users", "update-bulk", in, "-o", "json")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.JSONEq(t, `[{"Name":"Alice","Id":"`+aliceID+`"},{"Name":"robert","Id":"`+bobID+`"}]`, r.stdout)

	alice, ok := fake.User("Alice")
	require.True(t, ok)
	assert.JSONEq(t, `{"SubtitleMode":"Always"}`, string(alice.Configuration))
	_, ok = fake.User("robert")
	assert.True(t, ok)
	assert.Contains(t, fake.Requests(), "POST /Users/"+aliceID)
	assert.Contains(t, fake.Requests(), "POST /Users/"+bobID)

	// An unknown name stops the run before the first update.
	missing := filepath.Join(dir, "missing.yaml")
	require.NoError(t, os.WriteFile(missing, []byte("- Name: Alice\n  Configuration: {SubtitleMode: None}\n- Name: nobody\n"), 0o600))
	before := len(fake.Requests())
	r = run(t, cfg, "", "users", "update-bulk", missing)
	assert.Equal(t, apperrors.ExitUsage, r.code)
	assert.Contains(t, r.stderr, `no user named "nobody"`)
	for _, req := range fake.Requests()[before:] {
		assert.NotContains(t, req, "POST")
	}
	alice, _ = fake.User("Alice")
	assert.JSONEq(t, `{"SubtitleMode":"Always"}`, string(alice.Configuration))
}

func TestParseUserDocs(t *testing.T) {
	entries, err := parseUserDocs([]byte(`{"Name":"alice","Policy":{}}`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].ref)
	assert.JSONEq(t, `{"Name":"alice","Policy":{}}`, string(entries[0].doc))

	entries, err = parseUserDocs([]byte(`[{"Id":"abc","Name":"alice"},{"Name":"bob"}]`))
	require.NoError(t, err)
	assert.Equal(t, "abc", entries[0].ref)
	assert.Equal(t, "bob", entries[1].ref)

	for _, in := range []string{`[]`, `"alice"`, `[1]`, `[{"Policy":{}}]`} {
		_, err := parseUserDocs([]byte(in))
		assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err), in)
	}
}

const (
	alienID  = "0a1b2c3d4e5f60718293a4b5c6d7e8f9"
	aliensID = "1a1b2c3d4e5f60718293a4b5c6d7e8f9"
	heatID   = "2a1b2c3d4e5f60718293a4b5c6d7e8f9"
)

func TestSetImageByName(t *testing.T) {
	fake, cfg := loggedIn(t)
	fake.Update(func(f *testutil.Jellyfin) {
		f.Items = []testutil.Item{
			{Name: "Alien", Id: alienID, Type: "Movie"},
			{Name: "Aliens", Id: aliensID, Type: "Movie"},
			{Name: "Heat", Id: heatID, Type: "Movie"},
		}
	})
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	file := filepath.Join(t.TempDir(), "poster.png")
	require.NoError(t, os.WriteFile(file, png, 0o600))

	// Two items match; the one named exactly after the title is used.
	r := run(t, cfg, "", "items", "set-image-by-name", "alien", "--file", file)
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, "Image uploaded.\n", r.stdout)

	r = run(t, cfg, "", "items", "set-image-by-name", "Heat", "-f", file, "--type", "Backdrop")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	fake.Update(func(f *testutil.Jellyfin) {
		assert.Equal(t, png, f.Images[alienID+"/Primary"])
		assert.Equal(t, png, f.Images[heatID+"/Backdrop"])
		assert.Len(t, f.Images, 2)
	})

	r = run(t, cfg, "", "items", "set-image-by-name", "alie", "--file", file)
	assert.Equal(t, apperrors.ExitUsage, r.code)
	assert.Contains(t, r.stderr, `2 items match "alie"`)

	r = run(t, cfg, "", "items", "set-image-by-name", "brazil", "--file", file)
	assert.Equal(t, apperrors.ExitUsage, r.code)
	assert.Contains(t, r.stderr, `no item matches "brazil"`)

	// Bad input is rejected before the search.
	before := len(fake.Requests())
	r = run(t, cfg, "", "items", "set-image-by-name", "Heat", "--file", file, "--type", "Poster")
	assert.Equal(t, apperrors.ExitUsage, r.code)
	r = run(t, cfg, "", "items", "set-image-by-name", "Heat")
	assert.Equal(t, apperrors.ExitUsage, r.code)
	assert.Contains(t, r.stderr, "flag --file is required")
	assert.Len(t, fake.Requests(), before)
}

func TestMovieReport(t *testing.T) {
	fake, cfg := loggedIn(t)
	admin, ok := fake.User("admin")
	require.True(t, ok)
	fake.Update(func(f *testutil.Jellyfin) {
		f.Items = []testutil.Item{
			{Name: "Heat", Id: heatID, Type: "Movie", Fields: map[string]any{
				"DateCreated":     "2024-03-01T10:00:00.0000000Z",
				"PremiereDate":    "1995-12-15T00:00:00.0000000Z",
				"ProductionYear":  1995,
				"Genres":          []string{"Crime", "Drama"},
				"OfficialRating":  "R",
				"CommunityRating": 7.9,
				"RunTimeTicks":    int64(101_400_000_000),
				"Width":           1920,
				"Height":          800,
				"HasSubtitles":    true,
				"Path":            "/media/movies/Heat (1995).mkv",
			}},
			{Name: "The Wire", Id: alienID, Type: "Series"},
		}
	})

	r := run(t, cfg, "", "items", "report", "-o", "json")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.JSONEq(t, `[{
		"Name":"Heat","DateAdded":"2024-03-01T10:00:00.0000000Z","PremiereDate":"1995-12-15T00:00:00.0000000Z",
		"ProductionYear":1995,"Genres":"Crime, Drama","OfficialRating":"R","CommunityRating":7.9,
		"RuntimeMinutes":169,"Resolution":"1920x800","HasSubtitles":true,"Path":"/media/movies/Heat (1995).mkv"
	}]`, r.stdout)
	requests := fake.Requests()
	assert.Equal(t, []string{
		"GET /Users/Me",
		"GET /Users/" + admin.Id + "/Items?IncludeItemTypes=Movie&Recursive=true&SortBy=SortName&fields=DateCreated%2CGenres%2CPath",
	}, requests[len(requests)-2:])

	r = run(t, cfg, "", "items", "report", "-o", "csv")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Name,DateAdded,PremiereDate,ProductionYear,Genres,OfficialRating,CommunityRating,RuntimeMinutes,Resolution,HasSubtitles,Path", lines[0])
	assert.Contains(t, lines[1], `"Crime, Drama"`)

	fake.Update(func(f *testutil.Jellyfin) { f.Items = nil })
	r = run(t, cfg, "", "items", "report")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, "No movies found.\n", r.stdout)
}

func TestDevicesListActive(t *testing.T) {
	fake, cfg := loggedIn(t)
	now := time.Now().UTC()
	fake.Update(func(f *testutil.Jellyfin) {
		f.Devices = []testutil.Device{
			{Name: "phone", Id: "phone-1", AppName: "Jellyfin iOS", DateLastActivity: now.Add(-10 * time.Minute)},
			{Name: "old tv", Id: "tv-1", AppName: "Jellyfin Android TV", DateLastActivity: now.Add(-3 * time.Hour)},
		}
	})

	r := run(t, cfg, "", "devices", "list", "--active", "-o", "json")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, `["phone-1"]`, gjson.Get(r.stdout, "Items.#.Id").Raw)
	assert.Equal(t, int64(1), gjson.Get(r.stdout, "TotalRecordCount").Int())
	assert.Equal(t, "GET /Devices", fake.Requests()[len(fake.Requests())-1])

	r = run(t, cfg, "", "devices", "list", "-o", "json")
	require.Equal(t, apperrors.ExitOK, r.code, r.stderr)
	assert.Equal(t, int64(2), gjson.Get(r.stdout, "TotalRecordCount").Int())
}

func TestFilterResponse(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	active := dispatch.Command{Name: "devices list", Flags: map[string]string{"active": "true"}}
	raw := []byte(`{"Items":[
		{"Id":"a","DateLastActivity":"2026-05-01T11:30:00.0000000Z"},
		{"Id":"b","DateLastActivity":"2026-05-01T11:15:00.1234567"},
		{"Id":"c","DateLastActivity":"2026-05-01T09:00:00Z"},
		{"Id":"d"}
	],"TotalRecordCount":4,"StartIndex":0}`)
	resp := httpclient.NewResponse(200, "application/json", raw)

	got, err := filterResponse(active, resp, now)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, gjson.GetBytes(got.Raw, "Items.#.Id").Raw)
	assert.Equal(t, int64(2), gjson.GetBytes(got.Raw, "TotalRecordCount").Int())
	assert.Equal(t, int64(0), gjson.GetBytes(got.Raw, "StartIndex").Int())

	got, err = filterResponse(dispatch.Command{Name: "devices list"}, resp, now)
	require.NoError(t, err)
	assert.Same(t, resp, got)

	text := httpclient.NewResponse(200, "text/plain", []byte("not json"))
	got, err = filterResponse(active, text, now)
	require.NoError(t, err)
	assert.Same(t, text, got)
}

func TestUniqueItem(t *testing.T) {
	items := gjson.Parse(`[{"Name":"Alien","Id":"1"},{"Name":"Aliens","Id":"2"},{"Name":"aliens","Id":"3"}]`).Array()

	id, err := uniqueItem(items[:1], "ali")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	id, err = uniqueItem(items, "ALIEN")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	_, err = uniqueItem(items, "aliens")
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))
	_, err = uniqueItem(nil, "alien")
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))
}
