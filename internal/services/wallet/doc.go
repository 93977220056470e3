/*
Package wallet provides the atomic balance primitive of the ledger.

A Store applies a group of wallet deltas together with the write of the
Transaction record that explains them. Either every delta and the record land,
or nothing does. A delta that would drive a balance negative aborts the group
with an InsufficientBalance error carrying the current balance.

Usage:

	err := store.Atomically(ctx, wallet.Op{
	    Mutations: []wallet.Mutation{
	        {Key: wallet.Key{UserID: "alice", Currency: "PHP"}, Delta: amount.Neg()},
	        {Key: wallet.Key{UserID: "bob", Currency: "PHP"}, Delta: net, CreateIfMissing: true},
	    },
	    Guard:  checkLimits,
	    Record: tx,
	    Create: true,
	})

Locks are taken in a deterministic order: the stored Transaction row first
when the record is updated, then wallets sorted by Key. Guard runs with every
lock held and before any write, so checks made there cannot race with
another request touching the same wallets.

Two implementations exist. GormStore runs each Op inside a Postgres
transaction using SELECT ... FOR UPDATE. MemoryStore keeps everything in
process behind keyed mutexes and backs tests and STORE=memory.
*/
package wallet
