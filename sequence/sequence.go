package sequence

import "math/rand/v2"

// Stimulus pools. German items, matching the voices the driver prefers.
var (
	Digits    = []string{"1", "2", "3", "4", "5", "6", "7", "8", "9"}
	Syllables = []string{"Bein", "Wein", "Pein", "Sein", "Mein", "Dein"}

	ShortWords = []string{
		"Hund", "Boot", "Haus", "Stuhl", "Bus", "Berg", "Zug", "Fisch", "Apfel", "Uhr",
		"Hand", "Buch", "Kind", "Baum", "Tisch", "Mond", "Sonne", "Blume", "Wolke", "Auto",
	}
	LongWords = []string{
		"Akademie", "Telefonnummer", "Melodie", "Banane", "Fotografie",
		"Universität", "Regenbogen", "Schokolade", "Straßenbahn", "Kreisverkehr",
		"Wasserflasche", "Feuerwehrmann", "Krankenhaus", "Bibliothek", "Abenteuer",
		"Schmetterling", "Erdbeere", "Zahnarztpraxis", "Fernsehsendung", "Computerspiel",
	}
)

// Make draws n items from pool. Items are taken without replacement from a
// working copy; when the copy runs dry it is refilled from the full pool, so
// the first draw after a refill may repeat the item drawn just before it.
// A nil rng uses the package-level source.
func Make(n int, pool []string, rng *rand.Rand) []string {
	if n <= 0 || len(pool) == 0 {
		return []string{}
	}
	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}

	seq := make([]string, 0, n)
	var available []string
	for len(seq) < n {
		if len(available) == 0 {
			available = append(available[:0], pool...)
		}
		idx := intN(len(available))
		seq = append(seq, available[idx])
		available = append(available[:idx], available[idx+1:]...)
	}
	return seq
}
