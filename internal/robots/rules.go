package robots

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Group is the rule block for one or more consecutive User-agent lines.
type Group struct {
	Agents     []string
	Allow      []string
	Disallow   []string
	CrawlDelay *time.Duration

	allow    []*regexp.Regexp
	disallow []*regexp.Regexp
}

// Rules is a parsed robots.txt document.
type Rules struct {
	Groups   []*Group
	Sitemaps []string
}

// Parse reads robots.txt directives line by line. Unknown directives and
// malformed lines are ignored.
func Parse(body string) Rules {
	var (
		rules   Rules
		current *Group
		// agentRun is true while consecutive User-agent lines extend the same group.
		agentRun bool
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		directive, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(directive)) {
		case "user-agent":
			if current == nil || !agentRun {
				current = &Group{}
				rules.Groups = append(rules.Groups, current)
			}
			current.Agents = append(current.Agents, value)
			agentRun = true
		case "allow":
			agentRun = false
			if current != nil {
				current.addAllow(value)
			}
		case "disallow":
			agentRun = false
			if current != nil {
				current.addDisallow(value)
			}
		case "crawl-delay":
			agentRun = false
			if current == nil {
				continue
			}
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
				d := time.Duration(secs * float64(time.Second))
				current.CrawlDelay = &d
			}
		case "sitemap":
			if value != "" {
				rules.Sitemaps = append(rules.Sitemaps, value)
			}
		}
	}
	return rules
}

func (g *Group) addAllow(pattern string) {
	if pattern == "" {
		return
	}
	g.Allow = append(g.Allow, pattern)
	g.allow = append(g.allow, compilePattern(pattern))
}

func (g *Group) addDisallow(pattern string) {
	// An empty Disallow grants access to everything.
	if pattern == "" {
		return
	}
	g.Disallow = append(g.Disallow, pattern)
	g.disallow = append(g.disallow, compilePattern(pattern))
}

// compilePattern turns a robots path pattern into an anchored regexp.
// '*' matches any run of characters and a trailing '$' anchors the end.
func compilePattern(pattern string) *regexp.Regexp {
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(parts, ".*")
	if anchored {
		expr += "$"
	}
	return regexp.MustCompile(expr)
}

// Group returns the block that applies to userAgent: an exact agent match,
// then an agent token contained in userAgent, then the wildcard block.
func (r Rules) Group(userAgent string) *Group {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	var partial, wildcard *Group
	for _, g := range r.Groups {
		for _, agent := range g.Agents {
			a := strings.ToLower(agent)
			switch {
			case a == ua:
				return g
			case a == "*":
				if wildcard == nil {
					wildcard = g
				}
			case a != "" && strings.Contains(ua, a):
				if partial == nil {
					partial = g
				}
			}
		}
	}
	if partial != nil {
		return partial
	}
	return wildcard
}

// IsAllowed reports whether userAgent may fetch path. A matching Allow
// pattern takes precedence over any matching Disallow pattern.
func (r Rules) IsAllowed(userAgent, path string) bool {
	if path == "" {
		path = "/"
	}
	g := r.Group(userAgent)
	if g == nil {
		return true
	}
	for _, re := range g.allow {
		if re.MatchString(path) {
			return true
		}
	}
	for _, re := range g.disallow {
		if re.MatchString(path) {
			return false
		}
	}
	return true
}

// CrawlDelay returns the declared delay for userAgent, or def when none is declared.
func (r Rules) CrawlDelay(userAgent string, def time.Duration) time.Duration {
	g := r.Group(userAgent)
	if g == nil || g.CrawlDelay == nil || *g.CrawlDelay <= 0 {
		return def
	}
	return *g.CrawlDelay
}
