package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AkashAhmed66/ILocker/internal/crypto"
	"github.com/AkashAhmed66/ILocker/internal/keys"
	"github.com/AkashAhmed66/ILocker/internal/platform"
	"github.com/AkashAhmed66/ILocker/internal/storage"
	"github.com/AkashAhmed66/ILocker/internal/vault"
)

func main() {
	if err := platform.Harden(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not disable core dumps:", err)
	}

	// ---- init ----
	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	initHome := homeFlag(initCmd)

	// ---- add ----
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	addHome := homeFlag(addCmd)
	addKeep := addCmd.Bool("keep", false, "keep source files after import")
	addMime := addCmd.String("mime", "", "MIME type recorded for the imported files")
	addJobs := addCmd.Int("jobs", 4, "parallel import pipelines")
	addBolt := addCmd.Bool("bolt", false, "keep records in a bbolt database instead of JSON")
	addMongoURI := addCmd.String("mongo", "", "MongoDB URI for the record store (optional)")
	addDB := addCmd.String("db", "ilocker", "Mongo database name")
	addColl := addCmd.String("coll", "records", "Mongo collection name")

	// ---- export ----
	expCmd := flag.NewFlagSet("export", flag.ExitOnError)
	expHome := homeFlag(expCmd)
	expID := expCmd.String("id", "", "file id")
	expOut := expCmd.String("out", "", "output path (defaults to the original name)")
	expBolt := expCmd.Bool("bolt", false, "keep records in a bbolt database instead of JSON")
	expMongoURI := expCmd.String("mongo", "", "MongoDB URI for the record store (optional)")
	expDB := expCmd.String("db", "ilocker", "Mongo database name")
	expColl := expCmd.String("coll", "records", "Mongo collection name")

	// ---- list ----
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listHome := homeFlag(listCmd)
	listBolt := listCmd.Bool("bolt", false, "keep records in a bbolt database instead of JSON")
	listMongoURI := listCmd.String("mongo", "", "MongoDB URI for the record store (optional)")
	listDB := listCmd.String("db", "ilocker", "Mongo database name")
	listColl := listCmd.String("coll", "records", "Mongo collection name")

	// ---- find ----
	findCmd := flag.NewFlagSet("find", flag.ExitOnError)
	findHome := homeFlag(findCmd)
	findBolt := findCmd.Bool("bolt", false, "keep records in a bbolt database instead of JSON")
	findMongoURI := findCmd.String("mongo", "", "MongoDB URI for the record store (optional)")
	findDB := findCmd.String("db", "ilocker", "Mongo database name")
	findColl := findCmd.String("coll", "records", "Mongo collection name")

	// ---- delete ----
	delCmd := flag.NewFlagSet("delete", flag.ExitOnError)
	delHome := homeFlag(delCmd)
	delID := delCmd.String("id", "", "file id")
	delBolt := delCmd.Bool("bolt", false, "keep records in a bbolt database instead of JSON")
	delMongoURI := delCmd.String("mongo", "", "MongoDB URI for the record store (optional)")
	delDB := delCmd.String("db", "ilocker", "Mongo database name")
	delColl := delCmd.String("coll", "records", "Mongo collection name")

	// ---- passwd ----
	pwCmd := flag.NewFlagSet("passwd", flag.ExitOnError)
	pwHome := homeFlag(pwCmd)

	// ---- wipe ----
	wipeCmd := flag.NewFlagSet("wipe", flag.ExitOnError)
	wipeHome := homeFlag(wipeCmd)
	wipeYes := wipeCmd.Bool("yes", false, "skip the confirmation prompt")

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "init":
		_ = initCmd.Parse(os.Args[2:])
		dieIf(cmdInit(*initHome))

	case "add":
		_ = addCmd.Parse(os.Args[2:])
		app, err := openApp(*addHome, *addBolt, *addMongoURI, *addDB, *addColl)
		dieIf(err)
		dieIf(cmdAdd(app, addCmd.Args(), *addKeep, *addMime, *addJobs))

	case "export":
		_ = expCmd.Parse(os.Args[2:])
		app, err := openApp(*expHome, *expBolt, *expMongoURI, *expDB, *expColl)
		dieIf(err)
		dieIf(cmdExport(app, *expID, *expOut))

	case "list":
		_ = listCmd.Parse(os.Args[2:])
		app, err := openApp(*listHome, *listBolt, *listMongoURI, *listDB, *listColl)
		dieIf(err)
		dieIf(cmdList(app))

	case "find":
		_ = findCmd.Parse(os.Args[2:])
		app, err := openApp(*findHome, *findBolt, *findMongoURI, *findDB, *findColl)
		dieIf(err)
		dieIf(cmdFind(app, findCmd.Args()))

	case "delete":
		_ = delCmd.Parse(os.Args[2:])
		app, err := openApp(*delHome, *delBolt, *delMongoURI, *delDB, *delColl)
		dieIf(err)
		dieIf(cmdDelete(app, *delID))

	case "passwd":
		_ = pwCmd.Parse(os.Args[2:])
		app, err := openApp(*pwHome, false, "", "", "")
		dieIf(err)
		dieIf(cmdPasswd(app))

	case "wipe":
		_ = wipeCmd.Parse(os.Args[2:])
		app, err := openApp(*wipeHome, false, "", "", "")
		dieIf(err)
		dieIf(cmdWipe(app, *wipeYes))

	default:
		usage()
	}
}

// ============ App wiring ============

type app struct {
	keys   *keys.Manager
	engine *vault.Engine
}

func homeFlag(fs *flag.FlagSet) *string {
	return fs.String("home", defaultHome(), "locker home directory")
}

func defaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".ilocker")
	}
	return "./.ilocker"
}

func openApp(home string, useBolt bool, mongoURI, db, coll string) (*app, error) {
	secrets, err := buildSecretStore(home)
	if err != nil {
		return nil, err
	}
	meta, err := buildMetadataStore(home, useBolt, mongoURI, db, coll)
	if err != nil {
		return nil, err
	}
	sandbox, err := storage.NewSandbox(filepath.Join(home, "files"))
	if err != nil {
		return nil, err
	}
	thumbs := storage.NewFileBlobStore(filepath.Join(home, "thumbs"))

	km := keys.NewManager(secrets, keys.Config{})
	engine := vault.NewEngine(km, sandbox, thumbs, meta, vault.Config{})
	return &app{keys: km, engine: engine}, nil
}

// buildSecretStore prefers the OS keyring and falls back to encrypted-at-use
// secret files under the locker home.
func buildSecretStore(home string) (storage.SecretStore, error) {
	if kr, err := storage.NewKeyringSecretStore("ilocker"); err == nil {
		return kr, nil
	}
	return storage.NewFileSecretStore(filepath.Join(home, "secrets")), nil
}

func buildMetadataStore(home string, useBolt bool, mongoURI, db, coll string) (storage.MetadataStore, error) {
	if useBolt {
		bs, err := storage.OpenBoltStore(filepath.Join(home, "records.db"))
		if err != nil {
			return nil, err
		}
		return bs.Metadata(), nil
	}
	if mongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return storage.NewMongoMetadataStore(ctx, mongoURI, db, coll)
	}
	return storage.NewFileMetadataStore(filepath.Join(home, "records.json")), nil
}

func unlock(a *app) error {
	if !a.keys.IsCredentialSet() {
		return errors.New("locker not initialised; run: lockerctl init")
	}
	pw, err := promptSecret("Password: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(pw)
	if !a.keys.VerifyPassword(string(pw)) {
		left := 5 - a.keys.FailedAttempts()
		if left <= 0 {
			return errors.New("too many failed attempts; locker wiped")
		}
		return fmt.Errorf("wrong password (%d attempts left)", left)
	}
	return nil
}

// ============ Commands ============

func cmdInit(home string) error {
	a, err := openApp(home, false, "", "", "")
	if err != nil {
		return err
	}
	if a.keys.IsCredentialSet() {
		return errors.New("locker already initialised; use passwd to change the password")
	}
	pw, err := promptSecret("New password: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(pw)
	again, err := promptSecret("Repeat password: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(again)
	if string(pw) != string(again) {
		return errors.New("passwords do not match")
	}
	if err := a.keys.SetCredential(string(pw)); err != nil {
		return err
	}
	a.keys.Lock()
	fmt.Println("Locker initialised:", home)
	return nil
}

func cmdAdd(a *app, paths []string, keep bool, mime string, jobs int) error {
	if len(paths) == 0 {
		return errors.New("usage: lockerctl add [flags] FILE...")
	}
	if err := unlock(a); err != nil {
		return err
	}
	defer a.keys.Lock()

	results, err := a.engine.ImportAll(context.Background(), paths, vault.ImportOptions{
		Concurrency:  jobs,
		RemoveSource: !keep,
		MimeType:     mime,
	})
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "failed %s: %v\n", res.Path, res.Err)
			continue
		}
		fmt.Printf("added %s  id=%s  (%d bytes)\n", res.Record.OriginalName, res.Record.ID, res.Record.SizeBytes)
	}
	return err
}

func cmdExport(a *app, id, out string) error {
	if id == "" {
		return errors.New("--id required")
	}
	if err := unlock(a); err != nil {
		return err
	}
	defer a.keys.Lock()

	recs, err := a.engine.ListAll()
	if err != nil {
		return err
	}
	name := id
	for _, rec := range recs {
		if rec.ID == id && rec.OriginalName != "" {
			name = rec.OriginalName
		}
	}
	if out == "" {
		out = name
	}

	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	lastPct := -1
	err = a.engine.Retrieve(context.Background(), id, f, func(pct int) {
		if pct != lastPct {
			fmt.Fprintf(os.Stderr, "\r%3d%%", pct)
			lastPct = pct
		}
	})
	fmt.Fprintln(os.Stderr)
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(out)
		return err
	}
	fmt.Println("exported to", out)
	return nil
}

func cmdList(a *app) error {
	if err := unlock(a); err != nil {
		return err
	}
	defer a.keys.Lock()

	recs, err := a.engine.ListAll()
	if err != nil {
		return err
	}
	b, _ := json.MarshalIndent(recs, "", "  ")
	fmt.Println(string(b))
	return nil
}

func cmdFind(a *app, terms []string) error {
	if len(terms) == 0 {
		return errors.New("usage: lockerctl find [flags] TERM...")
	}
	if err := unlock(a); err != nil {
		return err
	}
	defer a.keys.Lock()

	recs, err := a.engine.Search(strings.Join(terms, " "))
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Printf("%s  %s  (%d bytes)\n", rec.ID, rec.OriginalName, rec.SizeBytes)
	}
	if len(recs) == 0 {
		fmt.Println("no matches")
	}
	return nil
}

func cmdDelete(a *app, id string) error {
	if id == "" {
		return errors.New("--id required")
	}
	if err := unlock(a); err != nil {
		return err
	}
	defer a.keys.Lock()

	known, err := a.engine.Delete(context.Background(), id)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("no file with id %s", id)
	}
	fmt.Println("deleted", id)
	return nil
}

func cmdPasswd(a *app) error {
	if !a.keys.IsCredentialSet() {
		return errors.New("locker not initialised; run: lockerctl init")
	}
	oldPw, err := promptSecret("Current password: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(oldPw)
	newPw, err := promptSecret("New password: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(newPw)

	if !a.keys.ChangePassword(string(oldPw), string(newPw)) {
		return errors.New("current password incorrect")
	}
	a.keys.Lock()
	fmt.Println("Password changed; stored files remain readable.")
	return nil
}

func cmdWipe(a *app, yes bool) error {
	if !yes {
		fmt.Print("This erases every stored file and the credential. Type 'wipe' to confirm: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		if line != "wipe\n" {
			return errors.New("aborted")
		}
	}
	if err := a.keys.WipeAll(); err != nil {
		return err
	}
	fmt.Println("Locker wiped.")
	return nil
}

// ============ Utilities ============

func usage() {
	fmt.Print(`lockerctl commands:

  init    [--home dir]
  add     [--home dir] [--keep] [--mime TYPE] [--jobs N] [--mongo URI --db ilocker --coll records] FILE...
  export  [--home dir] --id <FILE_ID> [--out path] [--mongo URI --db ilocker --coll records]
  list    [--home dir] [--mongo URI --db ilocker --coll records]
  find    [--home dir] TERM...
  delete  [--home dir] --id <FILE_ID> [--mongo URI --db ilocker --coll records]
  passwd  [--home dir]
  wipe    [--home dir] [--yes]

Examples:
  lockerctl init
  lockerctl add ./doc.pdf --mime application/pdf
  lockerctl export --id 1761753230653491299_ab12cd34 --out doc.pdf
`)
}

func promptSecret(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	br := bufio.NewReader(os.Stdin)
	pw, err := br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(pw) > 0 && pw[len(pw)-1] == '\n' {
		pw = pw[:len(pw)-1]
	}
	return pw, nil
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
