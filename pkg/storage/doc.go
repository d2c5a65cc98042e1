/*
Package storage provides bbolt-backed persistence for the manager's
warm-start log: completed-task records and category-engine snapshots.

# Buckets

  - completions: CompletionRecord keyed by task ID (decimal string).
  - categories: CategorySnapshot keyed by category name.

# Usage

	store, err := storage.NewBoltStore("/var/lib/workqueue/manager")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	store.AppendCompletion(&storage.CompletionRecord{TaskID: 42, Category: "default", Result: types.ResultSuccess})
	recs, err := store.ListCompletions()

The manager appends a completion record for each finished task. On
startup it calls ListCategorySnapshots and logs each snapshot it finds; it
does not replay completions into the category engine or restore histogram
state from the snapshots, and it does not write snapshots itself.

# Design Patterns

Upsert Pattern:
  - AppendCompletion and SaveCategorySnapshot both Put under a stable key;
    re-delivering the same record is harmless.

Error Wrapping:
  - All errors wrapped with context: fmt.Errorf("...: %w", err).
*/
package storage
