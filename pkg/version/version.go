package version

// Tag is the release tag, overridden at build time with
// -ldflags "-X github.com/rodrigodh/robosats/pkg/version.Tag=...".
var Tag = "v0.1.0"
