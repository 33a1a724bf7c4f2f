// Package console implements the operator commands read from the server's
// standard input.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cyberinferno/chatrelay/bans"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/registry"
	"github.com/cyberinferno/chatrelay/router"
	"github.com/cyberinferno/chatrelay/utils"
	"gopkg.in/yaml.v3"
)

// ErrShutdown is returned by Execute for the shutdown command.
var ErrShutdown = errors.New("shutdown requested")

// ErrUsage is returned for malformed commands.
var ErrUsage = errors.New("bad command syntax")

// Reloader reloads the settings file.
type Reloader interface {
	Reload() (config.ReloadResult, error)
}

const clearScreen = "\033[H\033[2J"

const help = `commands:
  clients                 list online users
  b <text>                broadcast to everyone
  a <id,id,...>^<text>    system message to the listed ids
  k <id> [seconds]        kick and ban; 0 seconds only disconnects
  udata <id|username>     look up a user
  settings [key]          show settings
  e <key>=<value>         change a live reload setting until restart
  bans                    list banned addresses
  unban <addr>            lift a ban
  reload                  reload the settings file
  help                    show this help
  cls                     clear the screen
  csn                     stop the server`

// Console executes operator commands against the running server.
type Console struct {
	Registry *registry.Registry
	Router   *router.Router
	Settings *config.Store
	Bans     *bans.Scheduler
	Reloader Reloader
	Out      io.Writer
	Logger   logger.Logger
}

// Run reads commands from in until ctx is cancelled, in is exhausted or the
// shutdown command is entered.
//
// Returns:
//   - ErrShutdown for the shutdown command, otherwise nil
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			err := c.Execute(line)
			if errors.Is(err, ErrShutdown) {
				return err
			}
			if err != nil {
				fmt.Fprintf(c.Out, "error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	name, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)
	c.Logger.Debug("console command", logger.Field{Key: "command", Value: name})

	switch name {
	case "csn":
		return ErrShutdown
	case "help":
		fmt.Fprintln(c.Out, help)
		return nil
	case "clients":
		return c.clients()
	case "b":
		if args == "" {
			return ErrUsage
		}
		n := c.Router.Broadcast(args)
		fmt.Fprintf(c.Out, ">>  broadcast to %d users\n", n)
		return nil
	case "a":
		return c.adminMessage(args)
	case "k":
		return c.kick(args)
	case "udata":
		return c.userData(args)
	case "settings":
		return c.settings(args)
	case "e":
		return c.edit(args)
	case "cls", "clear":
		fmt.Fprint(c.Out, clearScreen)
		return nil
	case "bans":
		return c.bans()
	case "unban":
		return c.unban(args)
	case "reload":
		return c.reload()
	default:
		return fmt.Errorf("%w: unknown command %q, try help", ErrUsage, name)
	}
}

func (c *Console) clients() error {
	w := tabwriter.NewWriter(c.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tADDRESS\tMESSAGES\tONLINE FOR")
	sessions := c.Registry.Sessions()
	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			s.ID(), s.Username(), s.RemoteAddr(), s.MessagesSent(),
			time.Since(s.AcceptedAt()).Truncate(time.Second))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.Out, "\n\t>>  %d users online\n", len(sessions))
	return nil
}

func (c *Console) adminMessage(args string) error {
	idList, text, ok := strings.Cut(args, "^")
	if !ok || strings.TrimSpace(idList) == "" {
		return ErrUsage
	}

	var ids []int
	for _, field := range strings.Split(idList, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return fmt.Errorf("%w: bad id %q", ErrUsage, field)
		}
		ids = append(ids, id)
	}

	for _, id := range c.Router.AdminMessage(text, ids) {
		fmt.Fprintf(c.Out, "No client with UID: %d\n", id)
	}
	return nil
}

func (c *Console) kick(args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return ErrUsage
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("%w: bad id %q", ErrUsage, fields[0])
	}

	banFor := c.Settings.DefaultBanTime()
	if len(fields) == 2 {
		seconds, err := strconv.Atoi(fields[1])
		if err != nil || seconds < 0 {
			return fmt.Errorf("%w: bad duration %q", ErrUsage, fields[1])
		}
		banFor = time.Duration(seconds) * time.Second
	}

	s, err := c.Router.Kick(id, banFor)
	if err != nil {
		return err
	}

	if banFor > 0 {
		fmt.Fprintf(c.Out, ">>  kicked %s [%d], %s banned for %s\n", s.Username(), s.ID(), s.RemoteAddr(), banFor)
	} else {
		fmt.Fprintf(c.Out, ">>  kicked %s [%d], %s not banned\n", s.Username(), s.ID(), s.RemoteAddr())
	}
	return nil
}

func (c *Console) userData(args string) error {
	if args == "" {
		return ErrUsage
	}

	if id, err := strconv.Atoi(args); err == nil {
		s, ok := c.Registry.Get(id)
		if !ok {
			fmt.Fprintf(c.Out, "No client with UID: %d\n", id)
			return nil
		}
		fmt.Fprintf(c.Out, "Username: %s\n", s.Username())
		fmt.Fprintf(c.Out, "Address: %s\tMessages: %d\tBanned: %s\n",
			s.RemoteAddr(), s.MessagesSent(), utils.BoolToYesNo(c.Registry.IsBanned(s.RemoteAddr())))
		return nil
	}

	s, ok := c.Registry.FindByUsername(args)
	if !ok {
		fmt.Fprintf(c.Out, "No client with Username: %s\n", args)
		return nil
	}
	fmt.Fprintf(c.Out, "UID: %d\n", s.ID())
	return nil
}

func (c *Console) settings(key string) error {
	cfg := c.Settings.Get()

	if key != "" {
		value, ok := cfg.Lookup(key)
		if !ok {
			fmt.Fprintf(c.Out, "Not found: %s\n", key)
			return nil
		}
		fmt.Fprintf(c.Out, ">>  %s\t-\t%s\n", key, value)
		return nil
	}

	w := tabwriter.NewWriter(c.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tLIVE RELOAD")
	for _, e := range cfg.Entries() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, e.Value, utils.BoolToYesNo(config.HotReloadable(e.Key)))
	}
	return w.Flush()
}

// edit sets one key on a copy of the running settings and applies it
// through the store, so keys outside the live reload list stay unchanged.
func (c *Console) edit(args string) error {
	key, value, ok := strings.Cut(args, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return ErrUsage
	}

	current := c.Settings.Get()
	if _, known := current.Lookup(key); !known {
		fmt.Fprintf(c.Out, "No such key: %s\n", key)
		return nil
	}

	next := *current
	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: key},
		{Kind: yaml.ScalarNode, Value: strings.TrimSpace(value)},
	}}
	if err := doc.Decode(&next); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUsage, key, err)
	}

	changed, ignored, err := c.Settings.Apply(&next)
	if err != nil {
		return err
	}

	for _, k := range changed {
		v, _ := c.Settings.Get().Lookup(k)
		fmt.Fprintf(c.Out, ">>\tChanged: %s\t=\t%s\n", k, v)
		c.Logger.Info("setting changed from console", logger.Field{Key: "key", Value: k})
	}
	for _, k := range ignored {
		fmt.Fprintf(c.Out, ">>\tNeeds restart: %s\n", k)
	}
	if len(changed)+len(ignored) == 0 {
		fmt.Fprintln(c.Out, ">>\tNo changes")
	}
	return nil
}

func (c *Console) bans() error {
	expiries := map[string]time.Time{}
	if c.Bans != nil {
		for _, p := range c.Bans.Pending() {
			expiries[p.Addr] = p.Until
		}
	}

	banned := c.Registry.Banned()
	for _, addr := range banned {
		if until, ok := expiries[addr]; ok {
			fmt.Fprintf(c.Out, "%s\tuntil %s\n", addr, until.Format(time.DateTime))
		} else {
			fmt.Fprintf(c.Out, "%s\tuntil unban\n", addr)
		}
	}

	fmt.Fprintf(c.Out, "\n\t>>  %d addresses banned\n", len(banned))
	return nil
}

func (c *Console) unban(addr string) error {
	if addr == "" {
		return ErrUsage
	}

	var removed bool
	if c.Bans != nil {
		removed = c.Bans.Lift(addr)
	} else {
		removed = c.Registry.Unban(addr)
	}

	if !removed {
		fmt.Fprintf(c.Out, "%s is not banned\n", addr)
		return nil
	}
	fmt.Fprintf(c.Out, ">>  unbanned %s\n", addr)
	return nil
}

func (c *Console) reload() error {
	if c.Reloader == nil {
		return errors.New("no settings file to reload")
	}

	result, err := c.Reloader.Reload()
	if err != nil {
		return err
	}

	for _, key := range result.Changed {
		value, _ := c.Settings.Get().Lookup(key)
		fmt.Fprintf(c.Out, ">>\tChanged: %s\t=\t%s\n", key, value)
	}
	for _, key := range result.Ignored {
		fmt.Fprintf(c.Out, ">>\tNeeds restart: %s\n", key)
	}
	if len(result.Changed)+len(result.Ignored) == 0 {
		fmt.Fprintln(c.Out, ">>\tNo changes")
	}
	return nil
}
