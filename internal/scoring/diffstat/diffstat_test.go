package diffstat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyDiff(t *testing.T) {
	st := Parse(nil, nil)
	require.Equal(t, 0, st.FilesChanged)
	require.Equal(t, 0, st.Churn)
}

func TestParseCountsFilesAndChurn(t *testing.T) {
	diff := []byte(`diff --git a/foo.go b/foo.go
--- a/foo.go
+++ b/foo.go
@@ -1,2 +1,3 @@
 package foo
-func Old() {}
+func New() {}
+func Extra() {}
diff --git a/bar.go b/bar.go
--- a/bar.go
+++ b/bar.go
@@ -1,1 +1,1 @@
-package bar
+package baz
`)
	st := Parse(diff, nil)
	require.Equal(t, 2, st.FilesChanged)
	require.Equal(t, []string{"foo.go", "bar.go"}, st.Files)
	require.Equal(t, 5, st.Churn) // 2 removed + 3 added
}

func TestParseFlagsProtectedPaths(t *testing.T) {
	diff := []byte(`diff --git a/vendor/lib.go b/vendor/lib.go
--- a/vendor/lib.go
+++ b/vendor/lib.go
@@ -1,1 +1,1 @@
-old
+new
`)
	st := Parse(diff, []string{"vendor/"})
	require.Equal(t, []string{"vendor/lib.go"}, st.ProtectedTouched)
}

func TestParseDetectsWhitespaceOnlyChange(t *testing.T) {
	diff := []byte(`diff --git a/foo.go b/foo.go
--- a/foo.go
+++ b/foo.go
@@ -1,1 +1,1 @@
-func Foo() {}
+func Foo() {}
`)
	st := Parse(diff, nil)
	require.True(t, st.FormatterOnly)
}

func TestParseDoesNotFlagSubstantiveChangeAsFormatterOnly(t *testing.T) {
	diff := []byte(`diff --git a/foo.go b/foo.go
--- a/foo.go
+++ b/foo.go
@@ -1,1 +1,1 @@
-func Foo() int { return 1 }
+func Foo() int { return 2 }
`)
	st := Parse(diff, nil)
	require.False(t, st.FormatterOnly)
}
