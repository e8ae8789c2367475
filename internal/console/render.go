package console

import (
	"fmt"
	"strings"
	"time"
)

// BannerInfo is shown once at startup.
type BannerInfo struct {
	Version  string
	Addr     string
	Artifact string
	Mode     string
	Watch    []string
	Metrics  string
}

// Banner renders the startup box.
func Banner(info BannerInfo) string {
	lines := []string{
		titleStyle.Render("go-devserver " + info.Version),
		"",
		RenderKeyValue("Listening", info.Addr),
		RenderKeyValue("Artifact", info.Artifact),
		RenderKeyValue("Mode", info.Mode),
		RenderKeyValue("Watching", strings.Join(info.Watch, ", ")),
	}
	if info.Metrics != "" {
		lines = append(lines, RenderKeyValue("Metrics", "http://"+info.Metrics+"/metrics"))
	}
	return bannerStyle.Render(strings.Join(lines, "\n"))
}

// BuildFailedHeader is printed above the compiler output of a failed build.
func BuildFailedHeader(exitCode int, d time.Duration, errorLines int) string {
	detail := fmt.Sprintf("exit %d after %s", exitCode, d.Round(time.Millisecond))
	if errorLines > 0 {
		detail += fmt.Sprintf(", %d error line", errorLines)
		if errorLines != 1 {
			detail += "s"
		}
	}
	return Marker(StatusError) + " " + statusError.Render("build failed") + " " + detail
}

// BuildLaunchFailed is printed when the build tool could not be started.
func BuildLaunchFailed(tool string, err error) string {
	return Marker(StatusError) + " " + statusError.Render("build not started") + fmt.Sprintf(" %s: %v", tool, err)
}
