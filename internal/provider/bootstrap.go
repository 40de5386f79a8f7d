package provider

import (
	"log"
	"strings"

	"github.com/postlinehq/postline/internal/config"
)

// Bootstrap registers an adapter for every provider with configured
// credentials. Providers without credentials stay unregistered and surface as
// unknown to callers.
func Bootstrap(cfg *config.Config) {
	constructors := map[string]func(ClientCredentials) Provider{
		"facebook":  func(c ClientCredentials) Provider { return NewFacebook(c) },
		"instagram": func(c ClientCredentials) Provider { return NewInstagram(c) },
		"twitter":   func(c ClientCredentials) Provider { return NewTwitter(c) },
		"linkedin":  func(c ClientCredentials) Provider { return NewLinkedIn(c) },
		"reddit":    func(c ClientCredentials) Provider { return NewReddit(c) },
		"youtube":   func(c ClientCredentials) Provider { return NewYouTube(c) },
		"tiktok":    func(c ClientCredentials) Provider { return NewTikTok(c) },
		"pinterest": func(c ClientCredentials) Provider { return NewPinterest(c) },
		"mastodon":  func(c ClientCredentials) Provider { return NewMastodon(c) },
		"discord":   func(c ClientCredentials) Provider { return NewDiscord(c) },
	}

	for id, creds := range cfg.Providers {
		construct, ok := constructors[id]
		if !ok {
			log.Printf("OAuth: no adapter for configured provider %s, skipping", id)
			continue
		}
		Register(construct(ClientCredentials{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			BaseURL:      creds.BaseURL,
		}))
	}

	if ids := IDs(); len(ids) > 0 {
		log.Printf("OAuth: providers enabled: %s", strings.Join(ids, ", "))
	} else {
		log.Println("OAuth: no providers configured")
	}
}
