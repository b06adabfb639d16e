package discord

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
)

// commandCache remembers per guild the hashes of the registered commands.
type commandCache struct {
	dir string
}

func (c commandCache) path(guildID string) string {
	return filepath.Join(c.dir, guildID+".json")
}

func (c commandCache) load(guildID string) map[string]string {
	data := make(map[string]string)
	file, err := os.ReadFile(c.path(guildID))
	if err == nil {
		if err := json.Unmarshal(file, &data); err != nil {
			log.Printf("[WARN] Ignoring broken command cache of guild %s: %v", guildID, err)
			return make(map[string]string)
		}
	}
	return data
}

func (c commandCache) save(guildID string, hashes map[string]string) {
	path := c.path(guildID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("[WARN] Can't create command cache dir: %v", err)
		return
	}
	data, _ := json.MarshalIndent(hashes, "", "  ")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[WARN] Can't write command cache of guild %s: %v", guildID, err)
	}
}
