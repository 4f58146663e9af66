package session

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"crewcontrol.gg/internal/game"
)

// The first entries of a wordlist are typically too short or too common to
// make a good password; skip them.
const wordlistSkip = 100

// Generator produces one-time control passwords: three random wordlist
// words, each front-cased, concatenated.
type Generator struct {
	mu    sync.Mutex
	words []string
	rng   *rand.Rand
}

// NewGenerator builds a Generator over the usable tail of a wordlist.
func NewGenerator(words []string, seed int64) (*Generator, error) {
	if len(words) <= wordlistSkip {
		return nil, fmt.Errorf("wordlist too small: %d words, need more than %d", len(words), wordlistSkip)
	}
	return &Generator{
		words: words[wordlistSkip:],
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

// LoadWordlist reads one word per line, dropping blanks.
func LoadWordlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		w := strings.TrimSpace(sc.Text())
		if w != "" {
			words = append(words, w)
		}
	}
	return words, sc.Err()
}

// New returns a fresh password such as "FooBarBaz".
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteString(frontCase(g.words[g.rng.Intn(len(g.words))]))
	}
	return b.String()
}

func frontCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var errBadPassword = errors.New("session: malformed password payload")

// decodePassword turns the client's hex payload into the lower-cased
// password text used as the table key.
func decodePassword(payload string) (string, error) {
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return "", errBadPassword
	}
	return strings.ToLower(string(raw)), nil
}

// passwordTable maps lower-cased one-time passwords to their game.
type passwordTable struct {
	mu    sync.Mutex
	codes map[string]game.Code
}

func newPasswordTable() *passwordTable {
	return &passwordTable{codes: make(map[string]game.Code)}
}

func (t *passwordTable) put(password string, code game.Code) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codes[strings.ToLower(password)] = code
}

func (t *passwordTable) lookup(password string) (game.Code, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	code, ok := t.codes[password]
	return code, ok
}

func (t *passwordTable) remove(password string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.codes, password)
}

// removeGame drops every password issued for one game.
func (t *passwordTable) removeGame(code game.Code) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for pw, c := range t.codes {
		if c == code {
			delete(t.codes, pw)
		}
	}
}
