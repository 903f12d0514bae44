package alsa

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// SoundCardDevice is one PCM device on a sound card.
type SoundCardDevice struct {
	ID          int
	Description string
	Playback    bool
	Capture     bool
}

// String returns a human-readable representation of the SoundCardDevice.
func (d SoundCardDevice) String() string {
	var dirs []string
	if d.Playback {
		dirs = append(dirs, "playback")
	}
	if d.Capture {
		dirs = append(dirs, "capture")
	}

	return fmt.Sprintf("  Device %d: %s [%s]", d.ID, d.Description, strings.Join(dirs, ", "))
}

// SoundCard is an enumerated sound card with its PCM devices.
type SoundCard struct {
	ID          int
	Name        string
	Description string
	Devices     []SoundCardDevice
}

// String returns a human-readable representation of the SoundCard.
func (c SoundCard) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Card %d: %s (%s)\n", c.ID, c.Name, c.Description)
	for _, dev := range c.Devices {
		sb.WriteString(dev.String() + "\n")
	}

	return sb.String()
}

var (
	// " 0 [Loopback       ]: Loopback - Loopback"
	cardRegex = regexp.MustCompile(`^\s*(\d+)\s+\[\s*([^]]*?)\s*\]:\s*(.*)`)
	// "02-00: Loopback PCM : Loopback PCM : playback 8 : capture 8"
	pcmRegex = regexp.MustCompile(`^(\d+)-(\d+): (.*?) :.*`)
)

// EnumerateCards scans /proc/asound to find all available sound cards and their PCM devices.
func EnumerateCards() ([]SoundCard, error) {
	cards, err := os.Open("/proc/asound/cards")
	if err != nil {
		return nil, fmt.Errorf("could not read sound cards: %w", err)
	}
	defer cards.Close()

	pcms, err := os.Open("/proc/asound/pcm")
	if err != nil {
		return nil, fmt.Errorf("could not read PCM devices: %w", err)
	}
	defer pcms.Close()

	return ParseCards(cards, pcms)
}

// ParseCards parses the contents of /proc/asound/cards and /proc/asound/pcm.
// Cards are returned in ID order.
func ParseCards(cards, pcms io.Reader) ([]SoundCard, error) {
	var result []*SoundCard
	byID := make(map[int]*SoundCard)

	sc := bufio.NewScanner(cards)
	for sc.Scan() {
		m := cardRegex.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		card := &SoundCard{ID: id, Name: m[2], Description: strings.TrimSpace(m[3])}
		byID[id] = card
		result = append(result, card)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read cards: %w", err)
	}

	sc = bufio.NewScanner(pcms)
	for sc.Scan() {
		line := sc.Text()
		m := pcmRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		cardID, _ := strconv.Atoi(m[1])
		devID, _ := strconv.Atoi(m[2])
		card, ok := byID[cardID]
		if !ok {
			continue
		}
		card.Devices = append(card.Devices, SoundCardDevice{
			ID:          devID,
			Description: strings.TrimSpace(m[3]),
			Playback:    strings.Contains(line, ": playback"),
			Capture:     strings.Contains(line, ": capture"),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read PCM devices: %w", err)
	}

	slices.SortFunc(result, func(a, b *SoundCard) int { return a.ID - b.ID })
	out := make([]SoundCard, len(result))
	for i, c := range result {
		out[i] = *c
	}

	return out, nil
}

// FindCard returns the ID of the first card whose name or description contains name.
func FindCard(name string) (int, error) {
	cards, err := EnumerateCards()
	if err != nil {
		return -1, err
	}
	for _, c := range cards {
		if strings.Contains(c.Name, name) || strings.Contains(c.Description, name) {
			return c.ID, nil
		}
	}

	return -1, fmt.Errorf("no sound card matches %q", name)
}
