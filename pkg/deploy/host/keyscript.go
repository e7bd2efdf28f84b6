package host

import (
	"fmt"
	"path/filepath"
	"strings"
)

// generateUploadScript synthesizes the shell program described in spec §6:
// it creates the destination directory, optionally verifies the owning
// user/group exist, streams stdin to a temporary file in the destination
// directory, then chowns, chmods and atomically renames it onto the final
// path. Grounded on local.rs's key_uploader::generate_script contract.
func generateUploadScript(destPath, user, group, permissions string, requireOwnership bool) string {
	dir := filepath.Dir(destPath)
	tmp := filepath.Join(dir, ".key-upload.XXXXXX")

	var b strings.Builder
	fmt.Fprintf(&b, "set -e\n")
	fmt.Fprintf(&b, "mkdir -p %s\n", shQuote(dir))

	owner := shQuote(user)
	grp := shQuote(group)

	// key_owner/key_group start out holding the declared user/group and are
	// only ever reassigned to the unquoted literal "root" below, so they are
	// always safe to interpolate unquoted on the right-hand side of "=".
	fmt.Fprintf(&b, "key_owner=%s\n", owner)
	fmt.Fprintf(&b, "key_group=%s\n", grp)

	if requireOwnership {
		fmt.Fprintf(&b, "id -u %s >/dev/null\n", owner)
		fmt.Fprintf(&b, "getent group %s >/dev/null\n", grp)
	} else {
		fmt.Fprintf(&b, "if ! id -u %s >/dev/null 2>&1; then echo 'warning: user %s missing, installing as root' >&2; key_owner=root; fi\n",
			owner, user)
		fmt.Fprintf(&b, "if ! getent group %s >/dev/null 2>&1; then key_group=root; fi\n", grp)
	}

	tmpVar := shQuote(tmp)
	fmt.Fprintf(&b, "tmp=$(mktemp %s)\n", tmpVar)
	fmt.Fprintf(&b, "cat > \"$tmp\"\n")
	fmt.Fprintf(&b, "chown \"$key_owner\":\"$key_group\" \"$tmp\"\n")
	fmt.Fprintf(&b, "chmod %s \"$tmp\"\n", shQuote(permissions))
	fmt.Fprintf(&b, "mv -f \"$tmp\" %s\n", shQuote(destPath))

	return b.String()
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
