package odb

import (
	"os"
	"runtime"
	"strconv"

	"go.uber.org/zap"
)

// Options configures a DataStore. NewOptions resolves defaults from
// environment variables under envPrefix, then applies any functional
// overrides layered on top.
type Options struct {
	// Cores bounds how many goroutines a banked store's sweep scan may use;
	// OpenArchive also hands it to the checksummed .dat writer.
	Cores int
	// BankCapacity is the number of records held per bank in banked mode
	// before a new bank is allocated.
	BankCapacity int
	// ChecksumInterval controls how many archive bytes are covered per
	// murmur3 checksum frame when a Archive is opened with Checksummed.
	ChecksumInterval int
	// ExpirySeconds, if non-zero, is the default prune age RemoveSweep uses
	// when a DataStore has no explicit Condition.
	ExpirySeconds int64
	// MaxRecords, if non-zero, bounds how many live records a DataStore may
	// hold; Add/AddVariable beyond it return an *AllocationFailure and leave
	// the store unchanged.
	MaxRecords int64
	// SweepIntervalMS, if non-zero, starts a background goroutine on Open
	// that runs RemoveSweep/RemoveCleanup every SweepIntervalMS
	// milliseconds until the store is closed.
	SweepIntervalMS int64
	// Archive, if non-nil, receives every swept record's bytes during
	// RemoveCleanup, before storage is reclaimed. The archive's own
	// Condition still filters each write.
	Archive *Archive

	Logger *zap.SugaredLogger
}

// NewOptions resolves environment variables under envPrefix (defaulting to
// "ODB_") into an Options, then applies opts on top.
func NewOptions(envPrefix string, opts ...func(*Options)) *Options {
	if envPrefix == "" {
		envPrefix = "ODB_"
	}
	o := &Options{}
	if v := os.Getenv(envPrefix + "CORES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.Cores = n
		}
	}
	if o.Cores <= 0 {
		o.Cores = runtime.GOMAXPROCS(0)
	}
	if v := os.Getenv(envPrefix + "BANK_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.BankCapacity = n
		}
	}
	if o.BankCapacity <= 0 {
		o.BankCapacity = 4096
	}
	if v := os.Getenv(envPrefix + "CHECKSUM_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.ChecksumInterval = n
		}
	}
	if v := os.Getenv(envPrefix + "SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			o.SweepIntervalMS = n
		}
	}
	if o.ChecksumInterval < 1024 {
		o.ChecksumInterval = 65532
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Cores < 1 {
		o.Cores = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// OptCores overrides the resolved core count.
func OptCores(n int) func(*Options) { return func(o *Options) { o.Cores = n } }

// OptBankCapacity overrides the per-bank record capacity.
func OptBankCapacity(n int) func(*Options) { return func(o *Options) { o.BankCapacity = n } }

// OptExpirySeconds sets the default sweep prune age.
func OptExpirySeconds(s int64) func(*Options) { return func(o *Options) { o.ExpirySeconds = s } }

// OptMaxRecords bounds how many live records a DataStore may hold before
// Add/AddVariable reports an AllocationFailure.
func OptMaxRecords(n int64) func(*Options) { return func(o *Options) { o.MaxRecords = n } }

// OptSweepInterval enables the background sweeper, running a full
// RemoveSweep/RemoveCleanup pass every ms milliseconds.
func OptSweepInterval(ms int64) func(*Options) { return func(o *Options) { o.SweepIntervalMS = ms } }

// OptArchive routes every swept record into a, subject to a's Condition.
func OptArchive(a *Archive) func(*Options) { return func(o *Options) { o.Archive = a } }

// OptLogger installs a structured logger; defaults to a no-op logger.
func OptLogger(l *zap.SugaredLogger) func(*Options) { return func(o *Options) { o.Logger = l } }
