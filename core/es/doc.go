// Package es is an event-sourcing persistence engine. Aggregates are rebuilt
// and persisted exclusively from an append-only, playhead-ordered log of
// domain events, with snapshots to bound replay cost and per-aggregate locking
// to make concurrent load, save and revert safe.
//
// # Aggregates
//
// Domain objects embed [BaseAggregate] and are described by a [Definition]
// holding the aggregate type tag, the id type and the event handler table:
//
//	type accountKind struct{}
//	func (accountKind) IDType() string { return "account_id" }
//	type AccountID = es.ID[accountKind]
//
//	type Account struct {
//	    es.BaseAggregate
//	    Balance int `json:"balance"`
//	}
//
//	var AccountDef = es.Define[*Account, accountKind]("account",
//	    func() *Account { return &Account{} },
//	    es.On(func(a *Account, e *Deposited) { a.Balance += e.Amount }),
//	)
//
//	acc, err := AccountDef.Create(es.MustID[accountKind]("acc-1"))
//	err = acc.Raise(&Deposited{Amount: 10})
//
// Create raises the internal [AggregateCreated] event, so a new aggregate is
// at version 1. Every raised event adds one. [BaseAggregate.Close] raises
// [AggregateClosed], after which Raise fails with [ErrAttemptToChangeClosedStream].
// Events without a handler are recorded but do not change state.
//
// # Storage
//
// A [StreamStore] keeps one header per stream plus its event rows. Playheads
// are unique per stream, canceled rows included, which is what turns two concurrent
// appends at the same version into one success and one
// [ErrUniqueConstraintViolation]. [InMemoryStore] is the reference
// implementation; adapters/sqlstore persists to Postgres or SQLite.
//
// Revert rewinds a stream. [RevertHard] deletes the tail, [RevertSoft] marks
// it canceled so a later revert to a higher version can bring it back.
//
// # Repository and snapshots
//
// [Repository] loads an aggregate from its latest [Snapshot] plus the event
// tail, saves new streams, appends to existing ones and reverts. After each
// write the [Snapshotter] asks its [SnapshotTrigger] whether a new snapshot is
// due; the default [StepTrigger] takes one every 10 versions. Snapshot storage
// is best effort: failures are logged and only cost a longer replay.
//
// # Provider
//
// [Provider] is the entry point for applications. It holds a lock per
// aggregate (see [LockKey] and [LockFactory]) around every operation, routes
// saves of ids it has not seen to Save and all others to Update, and hands
// every persisted event to a [Publisher]:
//
//	p := es.NewProvider(repo, es.WithPublisher(pub))
//	err := p.WithTransaction(ctx, id, func(ctx context.Context, agg es.Aggregate) error {
//	    return agg.(*Account).Deposit(10)
//	})
package es
