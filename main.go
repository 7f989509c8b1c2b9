package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kevinxiao27/mutstate/ol"
	"github.com/kevinxiao27/mutstate/proxy"
	"github.com/kevinxiao27/mutstate/sched"
	"github.com/kevinxiao27/mutstate/store"
	"github.com/sanity-io/litter"
)

func main() {
	litter.Config.HidePrivateFields = false
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	manual := sched.NewManual()
	st, err := store.New(map[string]any{
		"title": "groceries",
		"items": []any{map[string]any{"name": "eggs", "done": false}},
	}, store.WithScheduler(manual), store.WithLogger(logger), store.WithName("demo"))
	if err != nil {
		logger.Error("create store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cancel := st.Listen(func(root *proxy.View) {
		fmt.Printf("commit → %s\n", root)
	})
	defer cancel()

	root := st.Root()
	root.Get("items").(*proxy.View).Mutate(func(n any) {
		items := n.(*[]any)
		*items = append(*items, map[string]any{"name": "milk", "done": false})
	})
	root.Get("items").(*proxy.View).At(0).(*proxy.View).Update(map[string]any{"done": true})
	root.Update(map[string]any{"title": "shopping"})

	fmt.Printf("pending: %d, scheduled commits: %d\n", st.Pending(), manual.Len())
	manual.RunPending()

	litter.Dump(ol.Plain(st.Snapshot()))
}
