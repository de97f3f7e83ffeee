package prompt

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"github.com/zsasuite/zsawallet/shielded"
	"golang.org/x/term"
)

// EntropyBits is the entropy of generated mnemonics, which then have 24
// words.
const EntropyBits = 256

// ErrInvalidMnemonic is returned for a mnemonic with unknown words or a bad
// checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// normalizeMnemonic lower-cases a mnemonic and separates its words by a
// single space. Commas are accepted as separators too.
func normalizeMnemonic(mnemonic string) string {
	mnemonic = strings.ReplaceAll(mnemonic, ",", " ")
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

// SeedFromMnemonic returns the wallet seed of a BIP-39 mnemonic. No
// passphrase is used.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(normalizeMnemonic(mnemonic), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// NewMnemonic generates a fresh mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(EntropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// ProvideSeed is used to prompt for the wallet seed as a hexadecimal value.
func ProvideSeed(reader *bufio.Reader) ([]byte, error) {
	for {
		fmt.Print("Enter existing wallet seed: ")
		seedStr, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		seedStr = strings.TrimSpace(strings.ToLower(seedStr))

		seed, err := hex.DecodeString(seedStr)
		if err != nil || len(seed) < shielded.MinSeedBytes ||
			len(seed) > shielded.MaxSeedBytes {

			fmt.Printf("Invalid seed specified.  Must be a "+
				"hexadecimal value that is at least %d bits and "+
				"at most %d bits\n", shielded.MinSeedBytes*8,
				shielded.MaxSeedBytes*8)
			continue
		}

		return seed, nil
	}
}

// ProvideMnemonic is used to prompt for the wallet mnemonic without echoing
// it to the terminal.
func ProvideMnemonic() ([]byte, error) {
	prompt := "Enter the mnemonic of your wallet: "
	for {
		fmt.Print(prompt)
		mnemonic, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		mnemonic = bytes.TrimSpace(mnemonic)
		if len(mnemonic) == 0 {
			continue
		}

		seed, err := SeedFromMnemonic(string(mnemonic))
		if err != nil {
			fmt.Println(err)
			continue
		}
		return seed, nil
	}
}

// promptList prompts the user with the given prefix, list of valid responses,
// and default list entry to use.  The function will repeat the prompt to the
// user until they enter a valid response.
func promptList(reader *bufio.Reader, prefix string, validResponses []string,
	defaultEntry string) (string, error) {

	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Print(prompt)
		reply, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// promptListBool prompts the user for a boolean (yes/no) with the given prefix.
// The function will repeat the prompt to the user until they enter a valid
// reponse.
func promptListBool(reader *bufio.Reader, prefix string,
	defaultEntry string) (bool, error) {

	// Setup the valid responses.
	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, prefix, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// Seed prompts the user whether they want to use an existing wallet
// mnemonic.  When the user answers no, a mnemonic will be generated and
// displayed to the user along with prompting them for confirmation.  When the
// user answers yes, the user is prompted for it.  All prompts are repeated
// until the user enters a valid response.
func Seed(reader *bufio.Reader) ([]byte, error) {
	// Ascertain the wallet generation seed.
	useUserSeed, err := promptListBool(reader, "Do you have an "+
		"existing wallet mnemonic you want to use?", "no")
	if err != nil {
		return nil, err
	}
	if !useUserSeed {
		mnemonic, err := NewMnemonic()
		if err != nil {
			return nil, err
		}

		fmt.Println("Your wallet mnemonic is:")
		fmt.Println(mnemonic)
		fmt.Println("IMPORTANT: Keep the mnemonic in a safe place as you\n" +
			"will NOT be able to restore your wallet without it.")
		fmt.Println("Please keep in mind that anyone who has access\n" +
			"to the mnemonic can also restore your wallet thereby\n" +
			"giving them access to all your funds, so it is\n" +
			"imperative that you keep it in a secure location.")

		for {
			fmt.Print(`Once you have stored the mnemonic in a safe ` +
				`and secure location, enter "OK" to continue: `)
			confirmSeed, err := reader.ReadString('\n')
			if err != nil {
				return nil, err
			}
			confirmSeed = strings.TrimSpace(confirmSeed)
			confirmSeed = strings.Trim(confirmSeed, `"`)
			if confirmSeed == "OK" {
				break
			}
		}
		return SeedFromMnemonic(mnemonic)
	}

	for {
		fmt.Print("Enter existing wallet mnemonic: ")
		mnemonic, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		seed, err := SeedFromMnemonic(mnemonic)
		if err != nil {
			fmt.Println("Invalid mnemonic word list specified")
			continue
		}
		return seed, nil
	}
}
