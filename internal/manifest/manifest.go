// Package manifest loads deployment definitions from YAML.
//
//	deployments:
//	  - name: nightly
//	    flow: etl
//	    command: ["python", "etl.py"]
//	    cron: "0 2 * * *"
//	    timezone: Europe/Berlin
//	    parameters: {target: warehouse}
//
// Each entry runs either a command or an inline JavaScript script, and has
// at most one of interval, cron or rrule.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/flowserve/internal/flow"
	"github.com/me/flowserve/internal/runner"
	"github.com/me/flowserve/internal/scheduler"
	"github.com/me/flowserve/pkg/model"
)

// File is the top-level manifest document.
type File struct {
	Deployments []Entry `yaml:"deployments"`
}

// Entry describes one deployment.
type Entry struct {
	Name string `yaml:"name"`
	Flow string `yaml:"flow"`

	Command []string          `yaml:"command"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`
	Script  string            `yaml:"script"`

	Interval string `yaml:"interval"`
	Cron     string `yaml:"cron"`
	RRule    string `yaml:"rrule"`
	Timezone string `yaml:"timezone"`

	Parameters  map[string]any `yaml:"parameters"`
	Description string         `yaml:"description"`
	Tags        []string       `yaml:"tags"`
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):([0-5]\d)$`)

// Load reads the manifest at path. Relative command directories are
// resolved against the manifest's directory.
func Load(path string) ([]*runner.Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	deps, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return deps, nil
}

// Parse decodes a manifest document. Unknown keys are rejected. Invalid
// schedules and flows are reported as *model.ConfigurationError.
func Parse(data []byte, baseDir string) ([]*runner.Deployment, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(f.Deployments) == 0 {
		return nil, &model.ConfigurationError{Message: "manifest defines no deployments"}
	}

	seen := make(map[string]int, len(f.Deployments))
	deps := make([]*runner.Deployment, 0, len(f.Deployments))
	for i, e := range f.Deployments {
		d, err := e.build(baseDir)
		if err != nil {
			return nil, fmt.Errorf("deployment %d (%s): %w", i+1, e.Name, err)
		}
		full := d.FullName()
		if j, dup := seen[full]; dup {
			return nil, &model.ConfigurationError{
				Message: fmt.Sprintf("deployment %s is defined twice (entries %d and %d)", full, j+1, i+1),
			}
		}
		seen[full] = i
		deps = append(deps, d)
	}
	return deps, nil
}

func (e Entry) build(baseDir string) (*runner.Deployment, error) {
	if strings.TrimSpace(e.Name) == "" {
		return nil, &model.ConfigurationError{Message: "name is required"}
	}
	if strings.TrimSpace(e.Flow) == "" {
		return nil, &model.ConfigurationError{Message: "flow is required"}
	}

	f, err := e.flow(baseDir)
	if err != nil {
		return nil, err
	}

	args := model.ScheduleArgs{Cron: e.Cron, RRule: e.RRule, Timezone: e.Timezone}
	if e.Interval != "" {
		d, err := parseInterval(e.Interval)
		if err != nil {
			return nil, err
		}
		args.Interval = &d
	}
	d, err := runner.NewDeployment(f, e.Name, args)
	if err != nil {
		return nil, err
	}
	// Reject bad expressions now rather than on the first scheduler tick.
	if _, err := scheduler.ParseSchedule(d.Schedule, time.Now()); err != nil {
		return nil, err
	}

	d.Parameters = e.Parameters
	d.Description = e.Description
	d.Tags = e.Tags
	return d, nil
}

func (e Entry) flow(baseDir string) (flow.Flow, error) {
	switch {
	case len(e.Command) > 0 && e.Script != "":
		return nil, &model.ConfigurationError{Message: "only one of command or script can be provided"}
	case len(e.Command) > 0:
		dir := e.Dir
		if dir != "" && !filepath.IsAbs(dir) && baseDir != "" {
			dir = filepath.Join(baseDir, dir)
		}
		return flow.Command(e.Flow, e.Command, flow.CommandOptions{Dir: dir, Env: envList(e.Env)}), nil
	case e.Script != "":
		s := flow.Script(e.Flow, e.Script)
		if err := s.Check(); err != nil {
			return nil, &model.ConfigurationError{Message: err.Error()}
		}
		return s, nil
	}
	return nil, &model.ConfigurationError{Message: "one of command or script is required"}
}

// parseInterval accepts a Go duration ("90m"), whole seconds ("3600") or HH:MM.
func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &model.ConfigurationError{
			Message: fmt.Sprintf("invalid interval %q (use a duration like '55m', seconds, or HH:MM)", v),
		}
	}
	return d, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}
