package cryfscfg

// AtimePolicy controls when an access timestamp update actually
// touches an entry. NoAtime and NoDiratime suppress updates outright;
// when neither applies, Relatime selects the lazier relatime rule
// over strictatime's always-update rule. Lives here rather than in
// pkg/fsblob so pkg/blockstore's mount callbacks can reference it
// without importing the top of the stack.
type AtimePolicy struct {
	NoAtime    bool
	NoDiratime bool
	Relatime   bool
}
