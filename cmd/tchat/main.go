package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/matheus3301/tchat/internal/auth"
	"github.com/matheus3301/tchat/internal/bus"
	"github.com/matheus3301/tchat/internal/chat"
	"github.com/matheus3301/tchat/internal/config"
	"github.com/matheus3301/tchat/internal/message"
	"github.com/matheus3301/tchat/internal/prefs"
	"github.com/matheus3301/tchat/internal/profile"
	"github.com/matheus3301/tchat/internal/realtime/firebase"
	"github.com/matheus3301/tchat/internal/status"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	_ = godotenv.Load()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := newApp(ctx, profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	switch args[0] {
	case "login":
		requireArgs(args, 3, "tchat login <email> <password>")
		cmdLogin(ctx, app, args[1], args[2])
	case "register":
		requireArgs(args, 3, "tchat register <email> <password>")
		cmdRegister(ctx, app, args[1], args[2])
	case "logout":
		cmdLogout(ctx, app)
	case "whoami":
		cmdWhoami(ctx, app, *jsonFlag)
	case "chats":
		cmdChats(ctx, app, *jsonFlag)
	case "open":
		requireArgs(args, 2, "tchat open <email>")
		cmdOpen(ctx, app, args[1])
	case "send":
		requireArgs(args, 3, "tchat send <chat-id> <text>")
		cmdSend(ctx, app, args[1], strings.Join(args[2:], " "))
	case "prefs":
		cmdPrefs(app, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: tchat [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <email> <password>      Sign in")
	fmt.Fprintln(os.Stderr, "  register <email> <password>   Create an account and sign in")
	fmt.Fprintln(os.Stderr, "  logout                        Sign out and clear cached identity")
	fmt.Fprintln(os.Stderr, "  whoami                        Show the signed-in identity")
	fmt.Fprintln(os.Stderr, "  chats                         List chats, newest activity first")
	fmt.Fprintln(os.Stderr, "  open <email>                  Open (or find) a chat with a user")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>         Send a message")
	fmt.Fprintln(os.Stderr, "  prefs [<key> <on|off>]        Show or change preferences")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: %s\n", usage)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// app wires the one-shot command services: unlike the daemon there is no
// lock and no listeners, every command runs against the store and exits.
type app struct {
	db     *prefs.DB
	mgr    *auth.Manager
	dir    *chat.Directory
	syncer *message.Sync
}

func newApp(ctx context.Context, profileName string) (*app, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := profile.EnsureDir(profileName); err != nil {
		return nil, err
	}

	db, err := prefs.Open(profile.PrefsDBPath(profileName))
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger := zap.NewNop()
	rt, err := firebase.New(ctx, cfg.Firebase, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	b := bus.New()
	machine := status.NewMachine(b)
	provider := auth.NewIdentityToolkit(cfg.Firebase.APIKey)
	mgr := auth.NewManager(provider, db, rt, b, machine, logger)
	dir := chat.NewDirectory(mgr, rt, b, logger)
	syncer := message.NewSync(mgr, rt, dir, b, logger)

	return &app{db: db, mgr: mgr, dir: dir, syncer: syncer}, nil
}

func (a *app) close() {
	_ = a.db.Close()
}

// requireIdentity restores the persisted session and fails the command when
// nobody is signed in.
func requireIdentity(ctx context.Context, a *app) *auth.Identity {
	a.mgr.CheckAuthState(ctx)
	ident := a.mgr.Current()
	if ident == nil {
		fmt.Fprintln(os.Stderr, "error: not signed in (run tchat login)")
		os.Exit(1)
	}
	return ident
}

func cmdLogin(ctx context.Context, a *app, email, password string) {
	ident, err := a.mgr.Login(ctx, email, password)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Signed in as %s (%s)\n", ident.Email, ident.UID)
}

func cmdRegister(ctx context.Context, a *app, email, password string) {
	ident, err := a.mgr.Register(ctx, email, password)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Account created. Signed in as %s (%s)\n", ident.Email, ident.UID)
}

func cmdLogout(ctx context.Context, a *app) {
	a.mgr.CheckAuthState(ctx)
	if err := a.mgr.Logout(ctx); err != nil {
		fatal(err)
	}
	fmt.Println("Signed out.")
}

func cmdWhoami(ctx context.Context, a *app, jsonOut bool) {
	ident := requireIdentity(ctx, a)
	if jsonOut {
		outputJSON(ident)
		return
	}
	fmt.Printf("UID:    %s\n", ident.UID)
	fmt.Printf("Email:  %s\n", ident.Email)
	if ident.DisplayName != "" {
		fmt.Printf("Name:   %s\n", ident.DisplayName)
	}
}

func cmdChats(ctx context.Context, a *app, jsonOut bool) {
	requireIdentity(ctx, a)
	if err := a.dir.Load(ctx); err != nil {
		fatal(err)
	}
	chats := a.dir.Chats()
	if jsonOut {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No chats yet. Start one with: tchat open <email>")
		return
	}
	for _, v := range chats {
		name := v.Counterpart.DisplayName
		if name == "" {
			name = v.Counterpart.Email
		}
		marker := " "
		if v.Counterpart.Online {
			marker = "*"
		}
		preview := ""
		if v.LastMessage != nil {
			preview = v.LastMessage.Content
		}
		fmt.Printf("%s %-20s %-24s %s\n", marker, v.ID, name, preview)
	}
}

func cmdOpen(ctx context.Context, a *app, email string) {
	requireIdentity(ctx, a)
	if err := a.dir.Load(ctx); err != nil {
		fatal(err)
	}
	view, err := a.dir.Create(ctx, email)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Chat %s with %s\n", view.ID, view.Counterpart.Email)
}

func cmdSend(ctx context.Context, a *app, chatID, text string) {
	requireIdentity(ctx, a)
	if err := a.dir.Load(ctx); err != nil {
		fatal(err)
	}
	if a.dir.Select(chatID) == nil {
		fatal(chat.ErrChatNotFound)
	}
	msg, err := a.syncer.Send(ctx, chatID, text)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Sent %s at %s\n", msg.ID, msg.Timestamp)
}

func cmdPrefs(a *app, args []string, jsonOut bool) {
	p, err := a.db.LoadPreferences()
	if err != nil {
		fatal(err)
	}
	if len(args) == 0 {
		if jsonOut {
			outputJSON(p)
			return
		}
		fmt.Printf("darkMode:       %v\n", p.DarkMode)
		fmt.Printf("notifications:  %v\n", p.Notifications)
		return
	}
	if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
		fmt.Fprintln(os.Stderr, "usage: tchat prefs <darkMode|notifications> <on|off>")
		os.Exit(1)
	}
	value := args[1] == "on"
	switch args[0] {
	case "darkMode":
		p.DarkMode = value
	case "notifications":
		p.Notifications = value
	default:
		fmt.Fprintf(os.Stderr, "unknown preference: %s\n", args[0])
		os.Exit(1)
	}
	if err := a.db.SavePreferences(p); err != nil {
		fatal(err)
	}
	fmt.Printf("%s = %v\n", args[0], value)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
