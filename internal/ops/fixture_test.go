package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mjarn/repoq/internal/checksum"
)

const fixturePrimaryXML = `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" xmlns:rpm="http://linux.duke.edu/metadata/rpm" packages="1">
<package type="rpm">
  <name>bash</name>
  <arch>x86_64</arch>
  <version epoch="0" ver="5.2.26" rel="3.fc40"/>
  <checksum type="sha256" pkgid="YES">aaaa</checksum>
  <summary>The GNU Bourne Again shell</summary>
  <description>Bash is the shell.</description>
  <size package="1000" installed="2000" archive="2100"/>
  <location href="Packages/b/bash-5.2.26-3.fc40.x86_64.rpm"/>
  <format>
    <rpm:provides>
      <rpm:entry name="bash" flags="EQ" epoch="0" ver="5.2.26" rel="3.fc40"/>
    </rpm:provides>
  </format>
</package>
</metadata>
`

// writeRepoFixture lays out repodata/repomd.xml plus an uncompressed
// primary.xml under root.
func writeRepoFixture(t *testing.T, root string) {
	t.Helper()
	repodata := filepath.Join(root, "repodata")
	if err := os.MkdirAll(repodata, 0o755); err != nil {
		t.Fatal(err)
	}
	blob := []byte(fixturePrimaryXML)
	if err := os.WriteFile(filepath.Join(repodata, "primary.xml"), blob, 0o644); err != nil {
		t.Fatal(err)
	}
	repomd := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <revision>1</revision>
  <data type="primary">
    <checksum type="sha256">%s</checksum>
    <location href="repodata/primary.xml"/>
  </data>
</repomd>
`, checksum.Sum(blob))
	if err := os.WriteFile(filepath.Join(repodata, "repomd.xml"), []byte(repomd), 0o644); err != nil {
		t.Fatal(err)
	}
}
