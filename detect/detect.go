// Package detect evaluates Sigma rules against the audited socket event
// stream.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"

	"github.com/socket-intents/intent-shim/audit"
)

const eventTypeSocket = "socket"

// Detector manages Sigma rules and detection over stored socket events.
type Detector struct {
	RulesDir   string
	db         *audit.DB
	evaluators map[string]*evaluator.RuleEvaluator
	running    bool
	reloadChan chan bool
	watcher    *fsnotify.Watcher
	mu         sync.RWMutex
}

// MatchResult represents the result of a rule evaluation.
type MatchResult struct {
	Match        bool
	Rule         sigma.Rule
	MatchDetails []string
}

func socketFieldConfig() sigma.Config {
	return sigma.Config{
		Title: "Intent Shim Config",
		FieldMappings: map[string]sigma.FieldMapping{
			"Operation": {TargetNames: []string{"Operation"}},
			"FD":        {TargetNames: []string{"FD"}},
			"Delegated": {TargetNames: []string{"Delegated"}},
			"Detail":    {TargetNames: []string{"Detail"}},
			"Error":     {TargetNames: []string{"Error"}},
		},
	}
}

// NewDetector creates a detector reading rules from rulesDir/enabled_rules
// and watching the directory for changes.
func NewDetector(rulesDir string, db *audit.DB) (*Detector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %v", err)
	}

	detector := &Detector{
		RulesDir:   rulesDir,
		db:         db,
		evaluators: make(map[string]*evaluator.RuleEvaluator),
		reloadChan: make(chan bool, 1),
		watcher:    watcher,
	}

	enabledDir := filepath.Join(rulesDir, "enabled_rules")
	disabledDir := filepath.Join(rulesDir, "disabled_rules")
	for _, dir := range []string{enabledDir, disabledDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to create directory %s: %v", dir, err)
			}
		}
	}

	if err := watcher.Add(enabledDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %v", enabledDir, err)
	}
	go detector.watchFileChanges()

	if err := detector.LoadRules(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to load rules: %v", err)
	}

	return detector, nil
}

func (d *Detector) watchFileChanges() {
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".yml") && !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				log.Printf("Detected rule change: %s", event.Name)
				d.ReloadRules()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)
		}
	}
}

// LoadRules loads all Sigma rules from the enabled_rules directory,
// replacing any previously loaded set.
func (d *Detector) LoadRules() error {
	enabledDir := filepath.Join(d.RulesDir, "enabled_rules")
	entries, err := os.ReadDir(enabledDir)
	if err != nil {
		return err
	}

	loaded := make(map[string]*evaluator.RuleEvaluator)
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		filePath := filepath.Join(enabledDir, entry.Name())
		rule, ev, err := loadRuleFile(filePath)
		if err != nil {
			log.Printf("Warning: failed to load rule file %s: %v", filePath, err)
			continue
		}
		loaded[rule.ID] = ev
		count++
	}

	d.mu.Lock()
	d.evaluators = loaded
	d.mu.Unlock()

	log.Printf("Loaded %d Sigma rules from %s", count, enabledDir)
	return nil
}

func loadRuleFile(filePath string) (sigma.Rule, *evaluator.RuleEvaluator, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return sigma.Rule{}, nil, err
	}

	if sigma.InferFileType(content) != sigma.RuleFile {
		return sigma.Rule{}, nil, fmt.Errorf("file is not a Sigma rule: %s", filePath)
	}

	rule, err := sigma.ParseRule(content)
	if err != nil {
		return sigma.Rule{}, nil, err
	}

	ev := evaluator.ForRule(rule,
		evaluator.WithConfig(socketFieldConfig()),
		evaluator.WithPlaceholderExpander(func(ctx context.Context, placeholderName string) ([]string, error) {
			return nil, nil
		}),
		evaluator.CountImplementation(func(ctx context.Context, key evaluator.GroupedByValues) (float64, error) {
			return 0, nil
		}),
		evaluator.SumImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		}),
		evaluator.AverageImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		}))

	return rule, ev, nil
}

// ReloadRules signals the polling loop to reload the rule set.
func (d *Detector) ReloadRules() {
	select {
	case d.reloadChan <- true:
	default:
		// reload already pending
	}
}

// RuleCount returns the number of loaded rules.
func (d *Detector) RuleCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.evaluators)
}

// CheckEvent evaluates one event's field map against all loaded rules.
func (d *Detector) CheckEvent(ctx context.Context, fields map[string]interface{}) []MatchResult {
	d.mu.RLock()
	evaluators := d.evaluators
	d.mu.RUnlock()

	var results []MatchResult
	for _, ev := range evaluators {
		result, err := ev.Matches(ctx, fields)
		if err != nil {
			log.Printf("Error evaluating socket event: %v", err)
			continue
		}
		if !result.Match {
			continue
		}

		var matchConditions []string
		for k, v := range result.SearchResults {
			if v {
				matchConditions = append(matchConditions, k)
			}
		}
		results = append(results, MatchResult{
			Match: true,
			Rule:  ev.Rule,
			MatchDetails: []string{
				fmt.Sprintf("Matched conditions: %s", strings.Join(matchConditions, ", ")),
			},
		})
	}
	return results
}

// StoreMatch records a rule match for the given event.
func (d *Detector) StoreMatch(match MatchResult, rec audit.Record) error {
	detailsJSON, _ := json.Marshal(match.MatchDetails)

	severity := match.Rule.Level
	if severity == "" {
		severity = "medium"
	}

	m := &audit.Match{
		EventID:      rec.ID,
		RuleID:       match.Rule.ID,
		RuleName:     match.Rule.Title,
		Severity:     severity,
		MatchDetails: string(detailsJSON),
		EventData:    audit.MarshalEventData(rec),
		Timestamp:    time.Now(),
	}
	if err := d.db.InsertMatch(m); err != nil {
		return fmt.Errorf("failed to insert match: %v", err)
	}

	log.Printf("Stored match for rule %s: %s", match.Rule.ID, match.Rule.Title)
	return nil
}

// StartPolling runs the detection loop until ctx is cancelled. New events
// are pulled from the audit store in ID order, resuming from the persisted
// detector state.
func (d *Detector) StartPolling(ctx context.Context, interval time.Duration) error {
	if d.running {
		return fmt.Errorf("detector is already running")
	}
	d.running = true

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Stopping socket event polling...")
			d.watcher.Close()
			return nil
		case <-d.reloadChan:
			log.Printf("Reloading Sigma rules...")
			if err := d.LoadRules(); err != nil {
				log.Printf("Error reloading rules: %v", err)
			}
		case <-ticker.C:
			if err := d.pollOnce(ctx); err != nil {
				log.Printf("Error polling socket events: %v", err)
			}
		}
	}
}

func (d *Detector) pollOnce(ctx context.Context) error {
	lastID, err := d.db.LastProcessedID(eventTypeSocket)
	if err != nil {
		return err
	}

	records, err := d.db.EventsSince(lastID, 500)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	matchCount := 0
	for _, rec := range records {
		fields := audit.EventFields(rec)
		for _, match := range d.CheckEvent(ctx, fields) {
			if err := d.StoreMatch(match, rec); err != nil {
				log.Printf("Failed to store match: %v", err)
				continue
			}
			matchCount++
		}
		lastID = rec.ID
	}

	return d.db.UpdateDetectorState(eventTypeSocket, lastID, matchCount)
}
