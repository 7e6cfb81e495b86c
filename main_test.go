package main

import (
	"testing"

	"github.com/spf13/viper"
)

func TestSessionOptionsFromConf(t *testing.T) {
	viper.Set("google.maptype", "satellite")
	viper.Set("google.language", "ja-JP")
	viper.Set("google.region", "JP")
	viper.Set("google.styles", []map[string]interface{}{
		{"featureType": "water", "stylers": []interface{}{map[string]interface{}{"color": "#00ff00"}}},
	})
	t.Cleanup(func() {
		viper.Set("google.maptype", "roadmap")
		viper.Set("google.language", "en-US")
		viper.Set("google.region", "US")
		viper.Set("google.styles", nil)
	})

	opts := sessionOptionsFromConf()
	if opts.MapType != "satellite" || opts.Language != "ja-JP" || opts.Region != "JP" {
		t.Errorf("base options = %q/%q/%q", opts.MapType, opts.Language, opts.Region)
	}
	if len(opts.Styles) != 1 {
		t.Fatalf("styles = %d entries, want 1", len(opts.Styles))
	}
	if opts.Styles[0]["featureType"] != "water" {
		t.Errorf("style featureType = %v, want water", opts.Styles[0]["featureType"])
	}
}
