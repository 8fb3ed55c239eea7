package runtime

import (
	"time"

	"github.com/felixgeelhaar/keepsake/internal/store"
)

// GateKind selects what must happen before a scene can be left.
type GateKind string

const (
	GateNone       GateKind = "none"
	GateTextReveal GateKind = "text_reveal"
	GateUserInput  GateKind = "user_input"
	GateGesture    GateKind = "gesture"
)

// Scene is one step of the narrative. Presentation code dispatches on Gate
// and never on Index.
type Scene struct {
	Index int
	Name  string
	Gate  GateKind
	// Media is the asset the scene shows, if any.
	Media *store.AssetKey

	Text        string
	RevealSpeed time.Duration
	Prompt      string
	Reply       string
	// Note is a short aside shown under Text.
	Note string
	// Lyrics is a long block the presentation may scroll.
	Lyrics string
	// Terminal marks the last scene. It offers no advance.
	Terminal bool
}

func key(k store.AssetKey) *store.AssetKey { return &k }

// DefaultScenes returns the six-scene keepsake.
func DefaultScenes() []Scene {
	return []Scene{
		{
			Index:       1,
			Name:        "apology",
			Gate:        GateTextReveal,
			Text:        "Sorry I didn't come to you when I should be there. I know this is already late. " +
				"I didn't know where I should go, and I literally didn't have time to make cards. So this is my small effort.",
			RevealSpeed: 35 * time.Millisecond,
		},
		{
			Index:       2,
			Name:        "second apology",
			Gate:        GateTextReveal,
			Text:        "Yes, I know this is common. But I had to give you something for now. So I came up with this. Sorry again.",
			RevealSpeed: 40 * time.Millisecond,
		},
		{
			Index:  3,
			Name:   "riddle",
			Gate:   GateUserInput,
			Media:  key(store.SinglePhoto),
			Prompt: "Cutie, do you know who is very much dumber? (Shhh… it's a riddle.) Guess it correctly to move ahead!",
			Reply:  "Nope… not what you wrote. It's YOU.",
		},
		{
			Index: 4,
			Name:  "cake",
			Gate:  GateGesture,
			Text:  "Now cut the cake.",
		},
		{
			Index: 5,
			Name:  "gallery",
			Gate:  GateNone,
			Media: key(store.GalleryPhotos),
			Text:  "Thank you.",
		},
		{
			Index:    6,
			Name:     "closing",
			Gate:     GateNone,
			Text:     "Thank you for existing.\nI wish you to be there till the end.\nNo matter how toxic it gets,\nno matter how distant we become,\nlet's remain together.",
			Note:     "Sorry again. Avika told me to make a video, but I wasn't able to. So instead, I wrote the lyrics for you.",
			Lyrics:   closingLyrics,
			Terminal: true,
		},
	}
}

const closingLyrics = `तेरे बिना मैं कुछ भी नहीं,
ये बात अब समझ आई
जब खुद से नफ़रत होने लगी,
तू बन के वजह आई

मेरी हिम्मत तूने जोड़ी,
मुझको फिर से अपनाया
टूटे हुए इस दिल को तूने,
जीना फिर सिखाया

यारा तेरी दोस्ती को,
मैंने अपनी जान माना
तेरे जैसा दोस्त कहाँ,
कहाँ ऐसा याराना

मेरे दिल की ये दुआ है,
कभी दूर तू न जाना
तेरे बिना जो मैं हो जाऊँ,
वो दिन कभी न आना

हर गिरते हुए लम्हे में,
तू बन के सहारा आई
जब राहें भी अनजान लगीं,
तू बन के उजाला आई

मैं खुद को जब खो बैठा था,
तूने मुझको पहचाना
मेरी खामोशी के दर्द को,
तूने दिल से जाना

तेरे संग हँसना-रोना ही,
मेरी असली दौलत है
इस बदलती दुनिया में,
तेरी दोस्ती इबादत है

यारा ये वादा है तुझसे,
साथ तेरा न छोड़ूँगा
जैसे तू थी मेरे हर कल में,
मैं भी तेरे संग रहूँगा 💫`

// mediaKeys lists every asset a scene list depends on, audio included.
func mediaKeys(scenes []Scene) []store.AssetKey {
	keys := []store.AssetKey{store.AmbientTrack, store.TerminalTrack}
	for _, s := range scenes {
		if s.Media != nil {
			keys = append(keys, *s.Media)
		}
	}
	return keys
}
