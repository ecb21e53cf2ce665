// Package audit provides an append-only operation log with an HMAC chain
// for tamper evidence. The chain key is random, generated when the vault
// is initialized, and lives next to the log with owner-only permissions.
package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	LogFileName = "audit.log"
	KeyFileName = "audit.key"
	FileMode    = 0600
	DirMode     = 0700

	genesisHash = "genesis"
	keyInfo     = "dmvault-audit-v1"
)

// Operation names recorded in the log.
const (
	OpVaultInit   = "vault.init"
	OpVaultRepair = "vault.repair"

	OpFileAdd    = "file.add"
	OpFileUpdate = "file.update"
	OpFileRemove = "file.remove"
	OpFileExport = "file.export"

	OpSecretAdd    = "secret.add"
	OpSecretUpdate = "secret.update"
	OpSecretRemove = "secret.remove"
	OpSecretShow   = "secret.show"
)

// Result values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// ErrKeyNotSet means the logger has no HMAC key; events cannot be
// chained and Log becomes a no-op error.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is one audit record. Seq, Prev, and HMAC chain records together
// so truncation or edits are detectable.
type Event struct {
	Version   int    `json:"v"`
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	Name      string `json:"name,omitempty"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
	Seq       int64  `json:"seq"`
	Prev      string `json:"prev"`
	HMAC      string `json:"hmac"`
}

// Logger appends events to a JSONL file under its directory.
type Logger struct {
	dir      string
	mu       sync.Mutex
	hmacKey  []byte
	seq      int64
	prevHash string
}

// NewLogger returns a logger rooted at dir. InitKey or LoadKey must be
// called before events can be written.
func NewLogger(dir string) *Logger {
	return &Logger{dir: dir, prevHash: genesisHash}
}

// InitKey generates a fresh random chain key and stores it under the log
// directory. Called once, at vault initialization.
func (l *Logger) InitKey() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, DirMode); err != nil {
		return fmt.Errorf("audit: failed to create log directory: %w", err)
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return fmt.Errorf("audit: failed to generate key: %w", err)
	}
	if err := os.WriteFile(l.keyPath(), seed, FileMode); err != nil {
		return fmt.Errorf("audit: failed to write key file: %w", err)
	}
	return l.deriveKey(seed)
}

// LoadKey reads the stored chain key and replays the tail of the log to
// restore the chain state.
func (l *Logger) LoadKey() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seed, err := os.ReadFile(l.keyPath())
	if err != nil {
		return fmt.Errorf("audit: failed to read key file: %w", err)
	}
	if err := l.deriveKey(seed); err != nil {
		return err
	}
	return l.loadChainState()
}

func (l *Logger) deriveKey(seed []byte) error {
	r := hkdf.New(sha256.New, seed, nil, []byte(keyInfo))
	l.hmacKey = make([]byte, 32)
	if _, err := r.Read(l.hmacKey); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	return nil
}

func (l *Logger) keyPath() string {
	return filepath.Join(l.dir, KeyFileName)
}

func (l *Logger) logPath() string {
	return filepath.Join(l.dir, LogFileName)
}

// loadChainState scans the log for the last event's sequence and hash.
func (l *Logger) loadChainState() error {
	f, err := os.Open(l.logPath())
	if err != nil {
		if os.IsNotExist(err) {
			l.seq = 0
			l.prevHash = genesisHash
			return nil
		}
		return fmt.Errorf("audit: failed to open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var last *Event
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		last = &e
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("audit: failed to scan log: %w", err)
	}
	if last != nil {
		l.seq = last.Seq
		l.prevHash = last.HMAC
	}
	return nil
}

// Log appends one event to the chain. Callers treat failures as
// best-effort: the vault operation itself has already happened.
func (l *Logger) Log(op, name, result, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}

	e := Event{
		Version:   1,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Name:      name,
		Result:    result,
		Error:     errMsg,
		Seq:       l.seq + 1,
		Prev:      l.prevHash,
	}
	e.HMAC = l.sign(&e)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}

	f, err := os.OpenFile(l.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: failed to append event: %w", err)
	}

	l.seq = e.Seq
	l.prevHash = e.HMAC
	return nil
}

// sign computes the event HMAC over every field except the HMAC itself.
func (l *Logger) sign(e *Event) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	fmt.Fprintf(mac, "%d|%s|%s|%s|%s|%s|%d|%s",
		e.Version, e.Timestamp, e.Operation, e.Name, e.Result, e.Error, e.Seq, e.Prev)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyResult summarizes a chain verification pass.
type VerifyResult struct {
	Events  int
	Valid   bool
	BadSeq  int64 // sequence of the first bad event, 0 when valid
	Message string
}

// Verify walks the whole log and checks the HMAC chain.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	f, err := os.Open(l.logPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &VerifyResult{Valid: true}, nil
		}
		return nil, fmt.Errorf("audit: failed to open log: %w", err)
	}
	defer f.Close()

	result := &VerifyResult{Valid: true}
	prev := genesisHash
	var expectSeq int64 = 1

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			result.Valid = false
			result.BadSeq = expectSeq
			result.Message = "unparseable event"
			return result, nil
		}
		if e.Seq != expectSeq || e.Prev != prev || l.sign(&e) != e.HMAC {
			result.Valid = false
			result.BadSeq = e.Seq
			result.Message = "chain broken"
			return result, nil
		}
		result.Events++
		prev = e.HMAC
		expectSeq++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to scan log: %w", err)
	}
	return result, nil
}
