package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/constants"
	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/verify"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll reference faces for voters",
	Long: `Enroll reference faces from an authorized capture or an import.

A single voter is enrolled with --primary, --secondary and --image. A whole
directory is imported with --dir; every file must be named
<primary>_<secondary>.<ext> (jpg, jpeg, png, bmp or webp).

Voters that are already enrolled are skipped unless --replace is given, in
which case their references are replaced.

Examples:
  # Enroll one voter
  voter-gate enroll --primary VOTER-123456 --secondary 12345678901 --image face.jpg

  # Import a directory with 8 workers
  voter-gate enroll --dir ./captures --concurrency 8

  # Replace references from a fresh capture
  voter-gate enroll --primary VOTER-123456 --secondary 12345678901 --image new.jpg --replace`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("primary", "", "Primary identifier (voter ID)")
	enrollCmd.Flags().String("secondary", "", "Secondary identifier (national ID)")
	enrollCmd.Flags().String("image", "", "Face image file")
	enrollCmd.Flags().String("dir", "", "Directory of <primary>_<secondary>.<ext> images to import")
	enrollCmd.Flags().Bool("replace", false, "Replace references of already enrolled voters")
	enrollCmd.Flags().Int("concurrency", constants.EnrollWorkers, "Number of parallel workers for --dir")
	enrollCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// EnrollResult represents the result of a batch enrollment
type EnrollResult struct {
	Success       bool     `json:"success"`
	Files         int      `json:"files"`
	Enrolled      int      `json:"enrolled"`
	Replaced      int      `json:"replaced"`
	Skipped       int      `json:"skipped"`
	Errors        int      `json:"errors"`
	Failures      []string `json:"failures,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
	DurationHuman string   `json:"duration_human,omitempty"`
}

type enrollOutcome int

const (
	outcomeEnrolled enrollOutcome = iota
	outcomeReplaced
	outcomeSkipped
)

func runEnroll(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "dir")
	imagePath := mustGetString(cmd, "image")
	if dir == "" && imagePath == "" {
		return errors.New("either --image or --dir is required")
	}
	if dir != "" && imagePath != "" {
		return errors.New("--image and --dir are mutually exclusive")
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	replace := mustGetBool(cmd, "replace")
	if imagePath != "" {
		s := verify.Subject{PrimaryID: mustGetString(cmd, "primary"), SecondaryID: mustGetString(cmd, "secondary")}
		outcome, err := enrollFile(ctx, a.orchestrator, s, imagePath, replace, database.SourceEnrolled)
		if err != nil {
			return err
		}
		claim, _ := a.orchestrator.ClaimFor(s)
		switch outcome {
		case outcomeSkipped:
			fmt.Printf("Voter %s is already enrolled, use --replace to replace the references\n", claim.Key)
		case outcomeReplaced:
			fmt.Printf("Replaced references of voter %s (%s)\n", claim.Key, claim.Masked)
		default:
			fmt.Printf("Enrolled voter %s (%s)\n", claim.Key, claim.Masked)
		}
		return nil
	}

	return runEnrollDir(ctx, cmd, a, dir, replace)
}

func runEnrollDir(ctx context.Context, cmd *cobra.Command, a *app, dir string, replace bool) error {
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")
	startTime := time.Now()

	files, err := enrollFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		if jsonOutput {
			return outputJSON(EnrollResult{Success: true})
		}
		fmt.Println("No images found.")
		return nil
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Found %d images to enroll\n\n", len(files))
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var enrolled, replaced, skipped, errorCount int64
	var mu sync.Mutex
	var failures []string
	sem := make(chan struct{}, max(concurrency, 1))
	var wg sync.WaitGroup

	for _, path := range files {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outcome, err := enrollPath(ctx, a.orchestrator, path, replace)
			switch {
			case err != nil:
				atomic.AddInt64(&errorCount, 1)
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %s", filepath.Base(path), apperrors.Message(err)))
				mu.Unlock()
				a.log.Warn("enrollment failed", zap.String("file", filepath.Base(path)), zap.Error(err))
			case outcome == outcomeSkipped:
				atomic.AddInt64(&skipped, 1)
			case outcome == outcomeReplaced:
				atomic.AddInt64(&replaced, 1)
			default:
				atomic.AddInt64(&enrolled, 1)
			}

			if bar != nil {
				bar.Add(1)
			}
		}(path)
	}

	wg.Wait()

	if bar != nil {
		fmt.Println()
	}

	duration := time.Since(startTime)
	result := EnrollResult{
		Success:       errorCount == 0,
		Files:         len(files),
		Enrolled:      int(enrolled),
		Replaced:      int(replaced),
		Skipped:       int(skipped),
		Errors:        int(errorCount),
		Failures:      failures,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}

	if jsonOutput {
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Println("\nEnrollment complete!")
	fmt.Printf("  Files:     %d\n", result.Files)
	fmt.Printf("  Enrolled:  %d\n", result.Enrolled)
	if result.Replaced > 0 {
		fmt.Printf("  Replaced:  %d\n", result.Replaced)
	}
	if result.Skipped > 0 {
		fmt.Printf("  Skipped:   %d (already enrolled)\n", result.Skipped)
	}
	if result.Errors > 0 {
		fmt.Printf("  Errors:    %d\n", result.Errors)
		for _, f := range result.Failures {
			fmt.Printf("    %s\n", f)
		}
	}
	fmt.Printf("  Duration:  %s\n", result.DurationHuman)
	return nil
}

// enrollPath enrolls the voter named by the file.
func enrollPath(ctx context.Context, o *verify.Orchestrator, path string, replace bool) (enrollOutcome, error) {
	s, err := subjectFromFileName(filepath.Base(path))
	if err != nil {
		return 0, err
	}
	return enrollFile(ctx, o, s, path, replace, database.SourceImported)
}

func enrollFile(ctx context.Context, o *verify.Orchestrator, s verify.Subject, path string, replace bool, source string) (enrollOutcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("reading image: %w", err)
	}
	if info.Size() > constants.MaxEnrollFileSize {
		return 0, apperrors.Newf(apperrors.KindValidation, "image is larger than %d bytes", constants.MaxEnrollFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading image: %w", err)
	}

	_, err = o.Enroll(ctx, s, data, source)
	if err == nil {
		return outcomeEnrolled, nil
	}
	if !errors.Is(err, apperrors.ErrAlreadyRegistered) {
		return 0, err
	}
	if !replace {
		return outcomeSkipped, nil
	}
	if _, err := o.Reenroll(ctx, s, data, source); err != nil {
		return 0, err
	}
	return outcomeReplaced, nil
}

var enrollExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// enrollFiles lists the importable images in dir, not recursing.
func enrollFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !enrollExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// subjectFromFileName parses "<primary>_<secondary>.<ext>". The primary
// identifier may not contain the separator, the secondary may.
func subjectFromFileName(name string) (verify.Subject, error) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	primary, secondary, ok := strings.Cut(stem, constants.EnrollFileSeparator)
	if !ok || strings.TrimSpace(primary) == "" || strings.TrimSpace(secondary) == "" {
		return verify.Subject{}, apperrors.Newf(apperrors.KindValidation,
			"file name %q must be <primary>%s<secondary>", name, constants.EnrollFileSeparator)
	}
	return verify.Subject{PrimaryID: primary, SecondaryID: secondary}, nil
}

// formatDuration formats a duration for human output.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
