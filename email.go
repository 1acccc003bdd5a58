package main

// SelectEmail returns the canonical address of a provider user: the first
// verified address, else the first address, else the empty string.
func SelectEmail(emails []EmailAddress) string {
	for _, e := range emails {
		if e.Verified {
			return e.Address
		}
	}

	if len(emails) > 0 {
		return emails[0].Address
	}

	return ""
}
