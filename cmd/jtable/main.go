// jtable is an interactive CLI for inspecting and editing jtable
// directories.
//
// Usage:
//
//	jtable [flags] <table-dir>
//
// Flags:
//
//	-s, --shard-capacity   Records per shard file
//	    --cache-entries    Shard cache entry bound
//	    --cache-bytes      Shard cache byte bound
//	    --batch-size       Write queue batch size
//	-i, --index            Field to index at open (repeatable)
//	-v, --verbose          Log store activity to stderr
//
// Commands (in REPL):
//
//	set <id> <json>            Insert or overwrite a record
//	new <json>                 Insert a record with a generated id
//	get <id>                   Show one record
//	del <id>                   Delete a record
//	ls [asc|desc] [limit]      List records by id
//	find <field> <json>        Records whose field equals a value
//	search <text> [fields...]  Case-insensitive substring search
//	agg <op> <field>           sum, avg, min, max or count over a field
//	index [add|rm <field>]     Show or change secondary indices
//	count                      Count live records
//	random [n]                 Sample records with replacement
//	bulk <count>               Insert N random records
//	stats                      Show table counters
//	flush                      Wait for pending writes to persist
//	compact                    Rewrite shard files densely
//	help                       Show this help
//	exit / quit / q            Exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/jtable/jtable"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("jtable", flag.ContinueOnError)

	shardCapacity := fs.IntP("shard-capacity", "s", 0, "records per shard file")
	cacheEntries := fs.Int("cache-entries", 0, "shard cache entry bound")
	cacheBytes := fs.Int64("cache-bytes", 0, "shard cache byte bound")
	batchSize := fs.Int("batch-size", 0, "write queue batch size")
	indexFields := fs.StringSliceP("index", "i", nil, "field to index at open (repeatable)")
	verbose := fs.BoolP("verbose", "v", false, "log store activity to stderr")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jtable [flags] <table-dir>\n\n")
		fmt.Fprintf(os.Stderr, "Open (creating if needed) the table stored in <table-dir>.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	err := fs.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}

		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()

		return errors.New("missing table directory")
	}

	var opts []jtable.Option

	if fs.Changed("shard-capacity") {
		opts = append(opts, jtable.WithShardCapacity(*shardCapacity))
	}

	if fs.Changed("cache-entries") || fs.Changed("cache-bytes") {
		opts = append(opts, jtable.WithCacheLimits(*cacheEntries, *cacheBytes))
	}

	if fs.Changed("batch-size") {
		opts = append(opts, jtable.WithWriteBatchSize(*batchSize))
	}

	if len(*indexFields) > 0 {
		opts = append(opts, jtable.WithIndexFields(*indexFields...))
	}

	if *verbose {
		opts = append(opts, jtable.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
	}

	dir := fs.Arg(0)

	table, err := jtable.Open(dir, opts...)
	if err != nil {
		return fmt.Errorf("opening table: %w", err)
	}

	repl := &REPL{table: table}

	replErr := repl.Run()

	closeErr := table.Close(context.Background())
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "warning: closing table: %v\n", closeErr)
	}

	return replErr
}

// REPL is the interactive command loop.
type REPL struct {
	table *jtable.Table
	liner *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".jtable_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	cfg := r.table.Config()
	fmt.Printf("jtable - %s (shard_capacity=%d, records=%d)\n",
		r.table.Dir(), cfg.ShardCapacity, r.table.Count(nil))
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("jtable> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "set", "put":
			r.cmdSet(args)

		case "new":
			r.cmdNew(args)

		case "get", "show":
			r.cmdGet(args)

		case "del", "delete", "rm":
			r.cmdDelete(args)

		case "ls", "list", "scan":
			r.cmdList(args)

		case "find":
			r.cmdFind(args)

		case "search":
			r.cmdSearch(args)

		case "agg", "aggregate":
			r.cmdAggregate(args)

		case "index", "indices":
			r.cmdIndex(args)

		case "count", "len":
			fmt.Printf("Live records: %d\n", r.table.Count(nil))

		case "random":
			r.cmdRandom(args)

		case "bulk":
			r.cmdBulk(args)

		case "stats", "info":
			r.cmdStats()

		case "flush":
			r.cmdFlush()

		case "compact":
			r.cmdCompact()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for commands.
func (r *REPL) completer(line string) []string {
	commands := []string{
		"set", "put", "new", "get", "show",
		"del", "delete", "rm", "ls", "list", "scan",
		"find", "search", "agg", "aggregate",
		"index", "indices", "count", "len",
		"random", "bulk", "stats", "info",
		"flush", "compact", "clear", "cls",
		"help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  set <id> <json>            Insert or overwrite a record")
	fmt.Println("  new <json>                 Insert a record with a generated id")
	fmt.Println("  get <id>                   Show one record")
	fmt.Println("  del <id>                   Delete a record")
	fmt.Println("  ls [asc|desc] [limit]      List records by id")
	fmt.Println("  find <field> <json>        Records whose field equals a value")
	fmt.Println("  search <text> [fields...]  Case-insensitive substring search")
	fmt.Println("  agg <op> <field>           sum, avg, min, max or count over a field")
	fmt.Println("  index [add|rm <field>]     Show or change secondary indices")
	fmt.Println("  count                      Count live records")
	fmt.Println("  random [n]                 Sample records with replacement")
	fmt.Println("  bulk <count>               Insert N random records")
	fmt.Println("  stats                      Show table counters")
	fmt.Println("  flush                      Wait for pending writes to persist")
	fmt.Println("  compact                    Rewrite shard files densely")
	fmt.Println("  help                       Show this help")
	fmt.Println("  exit / quit / q            Exit")
	fmt.Println()
	fmt.Println("Payloads are JSON objects, e.g.: set u1 {\"name\":\"ada\",\"age\":36}")
}

// parsePayload parses a JSON object from the remaining words of a line.
func parsePayload(words []string) (map[string]any, error) {
	raw := strings.Join(words, " ")

	var value map[string]any

	err := json.Unmarshal([]byte(raw), &value)
	if err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}

	return value, nil
}

// parseValue parses a single JSON value, falling back to a bare string
// so 'find name ada' works without quoting.
func parseValue(s string) any {
	var value any

	err := json.Unmarshal([]byte(s), &value)
	if err != nil {
		return s
	}

	return value
}

func (r *REPL) printRecord(rec jtable.Record) {
	payload, err := json.Marshal(rec.Value)
	if err != nil {
		payload = []byte("(unencodable)")
	}

	fmt.Printf("%s  v%d  %s\n", rec.ID, rec.Version, payload)
}

func (r *REPL) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: set <id> <json>")

		return
	}

	value, err := parsePayload(args[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	rec, done, err := r.table.Save(args[0], value)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if err := <-done; err != nil {
		fmt.Printf("Error persisting: %v\n", err)

		return
	}

	fmt.Printf("OK: saved %s (version=%d)\n", rec.ID, rec.Version)
}

func (r *REPL) cmdNew(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: new <json>")

		return
	}

	value, err := parsePayload(args)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	rec, done, err := r.table.Save("", value)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if err := <-done; err != nil {
		fmt.Printf("Error persisting: %v\n", err)

		return
	}

	fmt.Printf("OK: saved %s\n", rec.ID)
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: get <id>")

		return
	}

	rec, ok := r.table.Find(args[0])
	if !ok {
		fmt.Println("(not found)")

		return
	}

	payload, err := json.MarshalIndent(rec.Value, "", "  ")
	if err != nil {
		payload = []byte("(unencodable)")
	}

	fmt.Printf("ID:        %s\n", rec.ID)
	fmt.Printf("Version:   %d\n", rec.Version)
	fmt.Printf("Created:   %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Updated:   %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Value:     %s\n", payload)
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: del <id>")

		return
	}

	existed, done := r.table.Remove(args[0])

	if err := <-done; err != nil {
		fmt.Printf("Error persisting: %v\n", err)

		return
	}

	if existed {
		fmt.Printf("OK: deleted %s\n", args[0])
	} else {
		fmt.Printf("OK: %s did not exist\n", args[0])
	}
}

func (r *REPL) cmdList(args []string) {
	order := jtable.OrderAsc
	limit := 20

	for _, arg := range args {
		switch strings.ToLower(arg) {
		case jtable.OrderAsc, jtable.OrderDesc:
			order = strings.ToLower(arg)
		default:
			n, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Printf("Error parsing limit: %v\n", err)

				return
			}

			limit = n
		}
	}

	records, err := r.table.GetAll(order)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if len(records) == 0 {
		fmt.Println("(empty)")

		return
	}

	shown := records
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	for i, rec := range shown {
		fmt.Printf("%3d. ", i+1)
		r.printRecord(rec)
	}

	if len(shown) < len(records) {
		fmt.Printf("... (showing %d of %d, use 'ls <limit>' for more)\n", len(shown), len(records))
	}
}

func (r *REPL) cmdFind(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: find <field> <json>")

		return
	}

	value := parseValue(strings.Join(args[1:], " "))

	records, err := r.table.FindBy(args[0], value)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if len(records) == 0 {
		fmt.Println("(no matches)")

		return
	}

	for i, rec := range records {
		fmt.Printf("%3d. ", i+1)
		r.printRecord(rec)
	}
}

func (r *REPL) cmdSearch(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: search <text> [fields...]")

		return
	}

	records := r.table.Search(args[0], args[1:]...)

	if len(records) == 0 {
		fmt.Println("(no matches)")

		return
	}

	for i, rec := range records {
		fmt.Printf("%3d. ", i+1)
		r.printRecord(rec)
	}
}

func (r *REPL) cmdAggregate(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: agg <sum|avg|min|max|count> <field>")

		return
	}

	result, err := r.table.Aggregate(args[1], strings.ToLower(args[0]))
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("%s(%s) = %g\n", strings.ToLower(args[0]), args[1], result)
}

func (r *REPL) cmdIndex(args []string) {
	if len(args) == 0 {
		indices := r.table.ListIndices()
		if len(indices) == 0 {
			fmt.Println("(no indices)")

			return
		}

		for _, field := range indices {
			fmt.Printf("  %s\n", field)
		}

		return
	}

	if len(args) < 2 {
		fmt.Println("Usage: index [add|rm <field>]")

		return
	}

	switch strings.ToLower(args[0]) {
	case "add", "create":
		err := r.table.CreateIndex(args[1])
		if err != nil {
			fmt.Printf("Error: %v\n", err)

			return
		}

		fmt.Printf("OK: indexed %s\n", args[1])

	case "rm", "drop", "del":
		if r.table.DropIndex(args[1]) {
			fmt.Printf("OK: dropped index on %s\n", args[1])
		} else {
			fmt.Printf("OK: no index on %s\n", args[1])
		}

	default:
		fmt.Println("Usage: index [add|rm <field>]")
	}
}

func (r *REPL) cmdRandom(args []string) {
	n := 1

	if len(args) >= 1 {
		var err error

		n, err = strconv.Atoi(args[0])
		if err != nil {
			fmt.Printf("Error parsing count: %v\n", err)

			return
		}
	}

	records := r.table.Random(n)
	if len(records) == 0 {
		fmt.Println("(empty)")

		return
	}

	for i, rec := range records {
		fmt.Printf("%3d. ", i+1)
		r.printRecord(rec)
	}
}

func (r *REPL) cmdBulk(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: bulk <count>")

		return
	}

	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		fmt.Println("Error: count must be a positive integer")

		return
	}

	entries := make([]jtable.Entry, count)
	for i := range count {
		entries[i] = jtable.Entry{
			Value: map[string]any{
				"n":     i,
				"score": rand.Float64() * 100,
				"tag":   fmt.Sprintf("bulk-%04d", rand.IntN(10000)),
			},
		}
	}

	_, done, err := r.table.SaveMany(entries)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if err := <-done; err != nil {
		fmt.Printf("Error persisting: %v\n", err)

		return
	}

	fmt.Printf("OK: inserted %d records\n", count)
}

func (r *REPL) cmdStats() {
	stats := r.table.Stats()
	cfg := r.table.Config()

	fmt.Printf("Table Stats:\n")
	fmt.Printf("  Directory:       %s\n", r.table.Dir())
	fmt.Printf("  Live records:    %d\n", stats.EntryCount)
	fmt.Printf("  Shard capacity:  %d\n", cfg.ShardCapacity)
	fmt.Printf("  Cache hit rate:  %.1f%%\n", stats.CacheHitRate*100)
	fmt.Printf("  Queue depth:     %d\n", stats.QueueDepth)
	fmt.Printf("  Indices:         %s\n", indexSummary(r.table.ListIndices()))
}

func indexSummary(fields []string) string {
	if len(fields) == 0 {
		return "(none)"
	}

	return strings.Join(fields, ", ")
}

func (r *REPL) cmdFlush() {
	err := r.table.Flush(context.Background())
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println("OK: all writes persisted")
}

func (r *REPL) cmdCompact() {
	err := r.table.Compact(context.Background())
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println("OK: compacted")
}
