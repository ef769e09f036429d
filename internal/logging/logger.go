// Package logging provides config-driven categorized file-based logging for qanoon.
// Logs are written to .qanoon/logs/ with separate files per category.
// Logging is controlled by debug_mode in .qanoon/config.yaml - when false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot        Category = "boot"        // Boot/initialization
	CategorySession     Category = "session"     // Active-case session management
	CategoryPerformance Category = "performance" // Performance metrics, slow operations

	// Ingestion categories
	CategoryNormalizer Category = "normalizer" // Legal reference canonicalization
	CategoryChunker    Category = "chunker"    // Text chunking and domain classification
	CategoryIngest     Category = "ingest"     // Case knowledge-base ingestion

	// Query-path categories
	CategoryAnalyzer     Category = "analyzer"     // Query intent and entity analysis
	CategoryStatute      Category = "statute"      // Statute keyword engine
	CategoryExactMatch   Category = "exactmatch"   // Case-number exact-match resolution
	CategoryRetrieval    Category = "retrieval"    // Stage-1 dense retrieval
	CategoryRerank       Category = "rerank"       // Stage-2 cross-encoder reranking
	CategoryOrchestrator Category = "orchestrator" // Retrieval orchestration

	// Infrastructure categories
	CategoryStore     Category = "store"     // KB chunk store and case store operations
	CategoryEmbedding Category = "embedding" // Embedding engine and cache
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Categories map[string]bool `yaml:"categories" json:"categories"`
	Level      string          `yaml:"level" json:"level"`
	JSONFormat bool            `yaml:"json_format" json:"json_format"`
}

// StructuredLogEntry represents a JSON log entry
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`  // Unix milliseconds
	Category  string                 `json:"cat"` // Log category
	Level     string                 `json:"lvl"` // debug/info/warn/error
	Message   string                 `json:"msg"` // Log message
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory using the given settings.
// Should be called once at startup with the workspace path.
func Initialize(ws string, debugMode bool, level string, categories map[string]bool, jsonFormat bool) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".qanoon", "logs")

	configMu.Lock()
	config = loggingConfig{
		DebugMode:  debugMode,
		Categories: categories,
		Level:      level,
		JSONFormat: jsonFormat,
	}
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	configMu.Unlock()

	// Only create logs directory if debug mode is enabled
	if !debugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== qanoon Logging System Initialized ===")
	bootLogger.Info("Workspace: %s", workspace)
	bootLogger.Info("Logs directory: %s", logsDir)
	bootLogger.Info("Log level: %s", level)

	return nil
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}

	if config.Categories == nil {
		return true // All enabled by default in debug mode
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Create log file with date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// logJSON writes a structured JSON log entry
func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg) // Fallback to text
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a fully structured log entry with custom fields
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if config.JSONFormat {
		data, err := json.Marshal(entry)
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// Close closes all open log files. Call on shutdown.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CATEGORY CONVENIENCE HELPERS
// =============================================================================

// Normalizer logs at info level to the normalizer category.
func Normalizer(format string, args ...interface{}) {
	Get(CategoryNormalizer).Info(format, args...)
}

// NormalizerDebug logs at debug level to the normalizer category.
func NormalizerDebug(format string, args ...interface{}) {
	Get(CategoryNormalizer).Debug(format, args...)
}

// Chunker logs at info level to the chunker category.
func Chunker(format string, args ...interface{}) {
	Get(CategoryChunker).Info(format, args...)
}

// ChunkerDebug logs at debug level to the chunker category.
func ChunkerDebug(format string, args ...interface{}) {
	Get(CategoryChunker).Debug(format, args...)
}

// Ingest logs at info level to the ingest category.
func Ingest(format string, args ...interface{}) {
	Get(CategoryIngest).Info(format, args...)
}

// IngestDebug logs at debug level to the ingest category.
func IngestDebug(format string, args ...interface{}) {
	Get(CategoryIngest).Debug(format, args...)
}

// Analyzer logs at info level to the analyzer category.
func Analyzer(format string, args ...interface{}) {
	Get(CategoryAnalyzer).Info(format, args...)
}

// AnalyzerDebug logs at debug level to the analyzer category.
func AnalyzerDebug(format string, args ...interface{}) {
	Get(CategoryAnalyzer).Debug(format, args...)
}

// Statute logs at info level to the statute category.
func Statute(format string, args ...interface{}) {
	Get(CategoryStatute).Info(format, args...)
}

// StatuteDebug logs at debug level to the statute category.
func StatuteDebug(format string, args ...interface{}) {
	Get(CategoryStatute).Debug(format, args...)
}

// ExactMatch logs at info level to the exact-match category.
func ExactMatch(format string, args ...interface{}) {
	Get(CategoryExactMatch).Info(format, args...)
}

// Retrieval logs at info level to the retrieval category.
func Retrieval(format string, args ...interface{}) {
	Get(CategoryRetrieval).Info(format, args...)
}

// RetrievalDebug logs at debug level to the retrieval category.
func RetrievalDebug(format string, args ...interface{}) {
	Get(CategoryRetrieval).Debug(format, args...)
}

// Rerank logs at info level to the rerank category.
func Rerank(format string, args ...interface{}) {
	Get(CategoryRerank).Info(format, args...)
}

// Orchestrator logs at info level to the orchestrator category.
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// Store logs at info level to the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs at debug level to the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// Embedding logs at info level to the embedding category.
func Embedding(format string, args ...interface{}) {
	Get(CategoryEmbedding).Info(format, args...)
}

// EmbeddingDebug logs at debug level to the embedding category.
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Session logs at info level to the session category.
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// =============================================================================
// PERFORMANCE TIMERS
// =============================================================================

// Timer tracks elapsed time for an operation.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends timing and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends timing and logs the duration at info level.
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning when the operation exceeds the threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
