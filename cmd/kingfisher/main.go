package main

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"github.com/docker/docker/client"
	"github.com/fatih/color"
	"github.com/go-git/go-git/v5"
	"github.com/google/go-github/v67/github"
	"github.com/google/uuid"

	"github.com/kingfisher-scan/kingfisher/internal/config"
	"github.com/kingfisher-scan/kingfisher/internal/kflog"
	"github.com/kingfisher-scan/kingfisher/pkg/accessmap"
	"github.com/kingfisher-scan/kingfisher/pkg/common"
	logContext "github.com/kingfisher-scan/kingfisher/pkg/context"
	"github.com/kingfisher-scan/kingfisher/pkg/dockerlayer"
	"github.com/kingfisher-scan/kingfisher/pkg/exclude"
	"github.com/kingfisher-scan/kingfisher/pkg/repoenum"
	"github.com/kingfisher-scan/kingfisher/pkg/rules"
	"github.com/kingfisher-scan/kingfisher/pkg/scanner"
)

// builtinRuleSet is the small, always-available rule set used when no
// external rule file is configured. External rule file loading is out of
// scope; these cover the common high-signal cases exercised in tests.
func builtinRuleSet() []*rules.Rule {
	return []*rules.Rule{
		{
			ID:          "AWS_ACCESS_KEY_ID",
			Name:        "AWS Access Key ID",
			Pattern:     regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			Confidence:  rules.ConfidenceHigh,
			Visible:     true,
			PatternReqs: []string{"AKIA"},
		},
		{
			ID:          "GITHUB_TOKEN",
			Name:        "GitHub Personal Access Token",
			Pattern:     regexp.MustCompile(`gh[pousr]_[0-9A-Za-z]{36}`),
			Confidence:  rules.ConfidenceHigh,
			Visible:     true,
			PatternReqs: []string{"gh"},
		},
		{
			ID:          "SLACK_TOKEN",
			Name:        "Slack Token",
			Pattern:     regexp.MustCompile(`xox[baprs]-[0-9A-Za-z-]{10,}`),
			Confidence:  rules.ConfidenceHigh,
			Visible:     true,
			PatternReqs: []string{"xox"},
		},
		{
			ID:          "GENERIC_HIGH_ENTROPY_HEX",
			Name:        "Generic High-Entropy Hex String",
			Pattern:     regexp.MustCompile(`[0-9a-f]{40}`),
			MinEntropy:  3.0,
			Confidence:  rules.ConfidenceLow,
			Visible:     true,
		},
	}
}

func main() {
	cli := kingpin.New("kingfisher", "Kingfisher finds and maps the blast radius of leaked credentials.")
	debug := cli.Flag("debug", "Run in debug mode.").Bool()
	jsonOut := cli.Flag("json", "Output in JSON format.").Short('j').Bool()
	concurrency := cli.Flag("concurrency", "Number of concurrent scan workers.").Default(strconv.Itoa(runtime.NumCPU())).Int()
	configPath := cli.Flag("config", "Path to a YAML config file.").String()

	scanCmd := cli.Command("scan", "Scan a git repository for leaked credentials.")
	scanPath := scanCmd.Arg("path", "Path to a local git repository.").String()
	scanImage := scanCmd.Flag("image", "Scan a Docker image's layers (by reference) instead of a git repository.").String()
	scanExclude := scanCmd.Flag("exclude", "Exclusion pattern (owner/repo, glob); repeatable.").Strings()
	scanDedup := scanCmd.Flag("dedup", "Deduplicate matches by fingerprint.").Default("true").Bool()
	scanExternalIgnore := scanCmd.Flag("external-ignore-syntax", "Honor gitleaks:allow/trufflehog:ignore directives.").Bool()

	accessMapCmd := cli.Command("access-map", "Map the access granted by a credential.")
	accessMapCloud := accessMapCmd.Arg("cloud", "Provider: aws, gcp, azure, azure_devops, github, gitlab, slack.").Required().String()
	accessMapGitHubToken := accessMapCmd.Flag("github-token", "GitHub token.").String()
	accessMapGitLabToken := accessMapCmd.Flag("gitlab-token", "GitLab token.").String()
	accessMapSlackToken := accessMapCmd.Flag("slack-token", "Slack token.").String()
	accessMapAzureDevOpsToken := accessMapCmd.Flag("azure-devops-token", "Azure DevOps PAT.").String()
	accessMapAzureDevOpsOrg := accessMapCmd.Flag("azure-devops-org", "Azure DevOps organization.").String()
	accessMapGCPCredentials := accessMapCmd.Flag("gcp-credentials", "Path to a GCP service account JSON file.").String()
	accessMapAzureCredentials := accessMapCmd.Flag("azure-credentials", "Path to an Azure storage credential JSON file.").String()
	accessMapAWSAccessKey := accessMapCmd.Flag("aws-access-key", "AWS access key id.").String()
	accessMapAWSSecretKey := accessMapCmd.Flag("aws-secret-key", "AWS secret access key.").String()
	accessMapAWSSessionToken := accessMapCmd.Flag("aws-session-token", "AWS session token.").String()

	discoverCmd := cli.Command("discover", "List GitHub clone URLs for one or more users/orgs, honoring exclusions and a clone limit.")
	discoverUsers := discoverCmd.Flag("user", "GitHub username to enumerate; repeatable.").Strings()
	discoverOrgs := discoverCmd.Flag("org", "GitHub organization to enumerate; repeatable.").Strings()
	discoverExclude := discoverCmd.Flag("exclude", "Exclusion pattern; repeatable.").Strings()
	discoverCloneLimit := discoverCmd.Flag("clone-limit", "Cap on total repos returned.").Int()

	cmd := kingpin.MustParse(cli.Parse(os.Args[1:]))

	runID := uuid.New()

	log, err := kflog.New(kflog.Options{JSON: *jsonOut, Debug: *debug})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log = log.WithValues("run_id", runID.String())
	ctx := logContext.WithLogger(logContext.Background(), log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(err, "failed to load config")
		os.Exit(1)
	}

	switch cmd {
	case scanCmd.FullCommand():
		if *scanPath == "" && *scanImage == "" {
			fmt.Fprintln(os.Stderr, "scan: one of path or --image is required")
			os.Exit(1)
		}
		if *scanImage != "" {
			runImageScan(ctx, *scanImage, *scanExclude, cfg, *scanDedup, *scanExternalIgnore, *jsonOut)
			return
		}
		runScan(ctx, cfg, *scanPath, *scanExclude, *scanDedup, *scanExternalIgnore, *concurrency, *jsonOut)
	case accessMapCmd.FullCommand():
		runAccessMap(ctx, accessMapRequest{
			cloud:            *accessMapCloud,
			githubToken:      *accessMapGitHubToken,
			gitlabToken:      *accessMapGitLabToken,
			slackToken:       *accessMapSlackToken,
			azureDevOpsToken: *accessMapAzureDevOpsToken,
			azureDevOpsOrg:   *accessMapAzureDevOpsOrg,
			gcpCredPath:      *accessMapGCPCredentials,
			azureCredPath:    *accessMapAzureCredentials,
			awsAccessKey:     *accessMapAWSAccessKey,
			awsSecretKey:     *accessMapAWSSecretKey,
			awsSessionToken:  *accessMapAWSSessionToken,
		}, *jsonOut)
	case discoverCmd.FullCommand():
		runDiscover(ctx, cfg, *discoverUsers, *discoverOrgs, *discoverExclude, *discoverCloneLimit, *jsonOut)
	}
}

func runDiscover(ctx logContext.Context, cfg *config.Config, users, orgs, excludeArgs []string, cloneLimit int, jsonOut bool) {
	token := cfg.Tokens.GitHub
	var client *github.Client
	if token != "" {
		client = github.NewClient(nil).WithAuthToken(token)
	} else {
		client = github.NewClient(nil)
	}

	excl := exclude.Build(ctx.Logger(), cfg.MergeExclude(excludeArgs))

	spec := repoenum.GitHubSpec{Users: users, Organizations: orgs, RepoType: repoenum.RepoTypeAll}
	if cloneLimit > 0 {
		spec.CloneLimit = &cloneLimit
	}

	urls, err := repoenum.EnumerateGitHub(ctx, ctx.Logger(), client, spec, excl)
	if err != nil {
		ctx.Logger().Error(err, "discover: enumeration stopped early")
	}

	if jsonOut {
		_ = json.NewEncoder(os.Stdout).Encode(urls)
		return
	}
	for _, u := range urls {
		fmt.Println(u)
	}
}

func runScan(ctx logContext.Context, cfg *config.Config, path string, excludeArgs []string, dedup, externalIgnore bool, workers int, jsonOut bool) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		ctx.Logger().Error(err, "failed to open git repository", "path", path)
		os.Exit(1)
	}

	excl := exclude.Build(ctx.Logger(), cfg.MergeExclude(excludeArgs))

	ruleSet := builtinRuleSet()
	matcher, err := rules.NewMatcher(ruleSet, externalIgnore)
	if err != nil {
		ctx.Logger().Error(err, "failed to compile rule set")
		os.Exit(1)
	}

	ruleIDs := make([]string, 0, len(ruleSet))
	for _, r := range ruleSet {
		ruleIDs = append(ruleIDs, r.ID)
	}
	store := rules.NewStore()
	store.RecordRules(matcher, ruleIDs)

	stats, err := scanner.ScanRepository(ctx, repo, matcher, store, func(p []byte) bool {
		return excl.Matches(common.BytesToString(p))
	}, scanner.Options{Workers: workers, Dedup: dedup})
	if err != nil {
		ctx.Logger().Error(err, "scan failed")
		os.Exit(1)
	}

	records := store.GetMatches()
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range records {
			_ = enc.Encode(toFindingRecord(r))
		}
		return
	}

	fmt.Printf("scanned %d blobs, %d matches, %d skipped\n", stats.BlobsScanned, stats.MatchesFound, stats.BlobsSkipped)
	printRecords(records)
}

// runImageScan saves imageRef through the local Docker engine and scans the
// regular files contained in every layer, the same way runScan scans a git
// repository's blobs. There is no git history to walk, so every file is
// matched directly and recorded under its layer digest as origin.
func runImageScan(ctx logContext.Context, imageRef string, excludeArgs []string, cfg *config.Config, dedup, externalIgnore, jsonOut bool) {
	excl := exclude.Build(ctx.Logger(), cfg.MergeExclude(excludeArgs))

	ruleSet := builtinRuleSet()
	matcher, err := rules.NewMatcher(ruleSet, externalIgnore)
	if err != nil {
		ctx.Logger().Error(err, "failed to compile rule set")
		os.Exit(1)
	}

	ruleIDs := make([]string, 0, len(ruleSet))
	for _, r := range ruleSet {
		ruleIDs = append(ruleIDs, r.ID)
	}
	store := rules.NewStore()
	store.RecordRules(matcher, ruleIDs)

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		ctx.Logger().Error(err, "failed to connect to the Docker engine")
		os.Exit(1)
	}
	defer cli.Close()

	files, err := dockerlayer.Extract(ctx, cli, imageRef)
	if err != nil {
		ctx.Logger().Error(err, "image scan failed", "image", imageRef)
		os.Exit(1)
	}

	var blobsScanned, blobsSkipped int
	for _, f := range files {
		if excl.Matches(f.Path) {
			blobsSkipped++
			continue
		}
		blobID := f.LayerDigest + ":" + f.Path
		matches := matcher.MatchBlob(blobID, f.Data)
		matches = matcher.ApplyDependencies(blobID, matches)
		store.Record(f.Path, blobID, matches, dedup)
		blobsScanned++
	}

	records := store.GetMatches()
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range records {
			_ = enc.Encode(toFindingRecord(r))
		}
		return
	}

	fmt.Printf("scanned %d files across %s, %d matches, %d skipped\n", blobsScanned, imageRef, len(records), blobsSkipped)
	printRecords(records)
}

// printRecords writes one line per finding to stdout, highlighting the rule
// id the way the teacher's analyzer result writers color their status lines.
func printRecords(records []rules.Record) {
	highlight := color.New(color.FgRed, color.Bold).SprintFunc()
	for _, r := range records {
		fmt.Printf("%s: blob %s (%s)\n", highlight(r.Match.RuleID), r.BlobID, r.Origin)
	}
}

type findingRecord struct {
	RuleID      string `json:"rule_id"`
	BlobID      string `json:"blob_id"`
	Origin      string `json:"origin"`
	Fingerprint string `json:"fingerprint"`
}

func toFindingRecord(r rules.Record) findingRecord {
	return findingRecord{
		RuleID:      r.Match.RuleID,
		BlobID:      r.BlobID,
		Origin:      r.Origin,
		Fingerprint: strconv.FormatUint(r.Match.Fingerprint, 16),
	}
}

type accessMapRequest struct {
	cloud            string
	githubToken      string
	gitlabToken      string
	slackToken       string
	azureDevOpsToken string
	azureDevOpsOrg   string
	gcpCredPath      string
	azureCredPath    string
	awsAccessKey     string
	awsSecretKey     string
	awsSessionToken  string
}

func runAccessMap(ctx logContext.Context, r accessMapRequest, jsonOut bool) {
	drivers := map[string]accessmap.Driver{
		"github":       &accessmap.GitHubDriver{},
		"gitlab":       &accessmap.GitLabDriver{},
		"slack":        &accessmap.SlackDriver{},
		"azure_devops": &accessmap.AzureDevOpsDriver{},
		"azure":        &accessmap.AzureStorageDriver{},
		"aws":          &accessmap.AWSDriver{},
		"gcp":          &accessmap.GCPDriver{},
	}

	req := accessmap.Request{
		Cloud:            r.cloud,
		GitHubToken:      r.githubToken,
		GitLabToken:      r.gitlabToken,
		SlackToken:       r.slackToken,
		AzureDevOpsToken: r.azureDevOpsToken,
		AzureDevOpsOrg:   r.azureDevOpsOrg,
		AWSAccessKey:     r.awsAccessKey,
		AWSSecretKey:     r.awsSecretKey,
		AWSSessionToken:  r.awsSessionToken,
	}
	if r.gcpCredPath != "" {
		data, err := os.ReadFile(r.gcpCredPath)
		if err != nil {
			ctx.Logger().Error(err, "failed to read GCP credential file")
			os.Exit(1)
		}
		req.GCPCredentialJSON = string(data)
	}
	if r.azureCredPath != "" {
		data, err := os.ReadFile(r.azureCredPath)
		if err != nil {
			ctx.Logger().Error(err, "failed to read Azure credential file")
			os.Exit(1)
		}
		req.AzureCredentialJSON = string(data)
	}

	results := accessmap.MapRequests(ctx, ctx.Logger(), drivers, []accessmap.Request{req})
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		for _, res := range results {
			_ = enc.Encode(res)
		}
		return
	}
	for _, res := range results {
		fmt.Printf("cloud=%s identity=%s severity=%s\n", res.Cloud, res.Identity.ID, severityColor(res.Severity).Sprint(res.Severity))
		for _, note := range res.RiskNotes {
			fmt.Printf("  note: %s\n", note)
		}
	}
}

// severityColor mirrors the teacher's analyzer status coloring: red for the
// worst outcome, yellow for anything risky, green otherwise.
func severityColor(sev accessmap.Severity) *color.Color {
	switch sev {
	case accessmap.SeverityHigh:
		return color.New(color.FgRed, color.Bold)
	case accessmap.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}
