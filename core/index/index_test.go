package index

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rosschurchill/zeroconfdlna/model"
)

var _ = Describe("Index", func() {
	var root string
	var idx *Index

	newIndex := func() {
		var err error
		idx, err = New(root)
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(idx.Close)
	}

	touch := func(name string, size int) {
		p := filepath.Join(root, filepath.FromSlash(name))
		Expect(os.MkdirAll(filepath.Dir(p), 0o755)).To(Succeed())
		Expect(os.WriteFile(p, make([]byte, size), 0o600)).To(Succeed())
	}

	mkdir := func(name string) {
		Expect(os.MkdirAll(filepath.Join(root, filepath.FromSlash(name)), 0o755)).To(Succeed())
	}

	titles := func(objs []model.ContentObject) []string {
		out := make([]string, len(objs))
		for i, o := range objs {
			out[i] = o.Title
		}
		return out
	}

	BeforeEach(func() {
		root = GinkgoT().TempDir()
	})

	Describe("New", func() {
		It("rejects a missing directory", func() {
			_, err := New(filepath.Join(root, "nope"))
			Expect(err).To(HaveOccurred())
		})

		It("rejects a plain file", func() {
			touch("file.mp3", 1)
			_, err := New(filepath.Join(root, "file.mp3"))
			Expect(err).To(MatchError(ContainSubstring("not a directory")))
		})

		It("binds id 0 to the root container with parent -1", func() {
			newIndex()
			obj, err := idx.Get(model.RootID)
			Expect(err).ToNot(HaveOccurred())
			Expect(obj.ID).To(Equal(model.RootID))
			Expect(obj.ParentID).To(Equal(model.ObjectID(-1)))
			Expect(obj.IsContainer()).To(BeTrue())
			Expect(obj.Title).To(Equal(filepath.Base(root)))
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			newIndex()
		})

		It("orders containers first, then case-insensitive by title", func() {
			mkdir("b")
			mkdir("A")
			touch("c.mp3", 1)
			touch("B.mp4", 1)
			children, total, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(4))
			Expect(titles(children)).To(Equal([]string{"A", "b", "B.mp4", "c.mp3"}))
		})

		It("hides dotfiles and unknown extensions", func() {
			touch(".hidden.mp3", 1)
			touch("notes.txt", 1)
			touch("song.mp3", 1)
			children, total, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(1))
			Expect(titles(children)).To(Equal([]string{"song.mp3"}))
		})

		It("assigns dense ids in listing order, starting at 1", func() {
			mkdir("movies")
			touch("a.mp3", 1)
			touch("b.mp3", 1)
			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(children[0].ID).To(Equal(model.ObjectID(1)))
			Expect(children[1].ID).To(Equal(model.ObjectID(2)))
			Expect(children[2].ID).To(Equal(model.ObjectID(3)))
		})

		It("keeps ids stable while later arrivals extend the sequence", func() {
			touch("a.mp3", 1)
			touch("c.mp3", 1)
			first, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(first[0].ID).To(Equal(model.ObjectID(1)))
			Expect(first[1].ID).To(Equal(model.ObjectID(2)))

			touch("b.mp3", 1)
			second, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(titles(second)).To(Equal([]string{"a.mp3", "b.mp3", "c.mp3"}))
			Expect(second[0].ID).To(Equal(model.ObjectID(1)))
			Expect(second[1].ID).To(Equal(model.ObjectID(3)))
			Expect(second[2].ID).To(Equal(model.ObjectID(2)))
		})

		It("pages with offset and limit while reporting the full total", func() {
			for _, name := range []string{"01.mp3", "02.mp3", "03.mp3", "04.mp3", "05.mp3", "06.mp3"} {
				touch(name, 1)
			}
			window, total, err := idx.List(model.RootID, 2, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(6))
			Expect(titles(window)).To(Equal([]string{"03.mp3", "04.mp3"}))
		})

		It("returns an empty window past the end, with the total intact", func() {
			touch("only.mp3", 1)
			window, total, err := idx.List(model.RootID, 10, 5)
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(1))
			Expect(window).To(BeEmpty())
		})

		It("treats limit 0 as unlimited", func() {
			touch("a.mp3", 1)
			touch("b.mp3", 1)
			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(children).To(HaveLen(2))
		})

		It("lists nested containers through their own ids", func() {
			touch("shows/pilot.mkv", 1)
			top, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(titles(top)).To(Equal([]string{"shows"}))

			nested, total, err := idx.List(top[0].ID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(1))
			Expect(nested[0].Title).To(Equal("pilot.mkv"))
			Expect(nested[0].ParentID).To(Equal(top[0].ID))
		})

		It("skips dangling symlinks", func() {
			touch("real.mp3", 1)
			Expect(os.Symlink(filepath.Join(root, "gone.mp3"), filepath.Join(root, "link.mp3"))).To(Succeed())
			children, total, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(1))
			Expect(titles(children)).To(Equal([]string{"real.mp3"}))
		})

		It("returns ErrNotFound for an id never assigned", func() {
			_, _, err := idx.List(model.ObjectID(99), 0, 0)
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns ErrNotContainer when the id is an item", func() {
			touch("song.mp3", 1)
			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			_, _, err = idx.List(children[0].ID, 0, 0)
			Expect(err).To(MatchError(ErrNotContainer))
		})

		It("returns ErrNotFound for a container that vanished", func() {
			mkdir("gone")
			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(os.Remove(filepath.Join(root, "gone"))).To(Succeed())
			_, _, err = idx.List(children[0].ID, 0, 0)
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Get", func() {
		BeforeEach(func() {
			newIndex()
		})

		It("returns item metadata with mime type, class and size", func() {
			touch("clip.mp4", 1234)
			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())

			obj, err := idx.Get(children[0].ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(obj.Kind).To(Equal(model.Item))
			Expect(obj.MimeType).To(Equal("video/mp4"))
			Expect(obj.Class).To(Equal("object.item.videoItem"))
			Expect(obj.Size).To(Equal(int64(1234)))
		})

		It("counts only visible entries in a container's child count", func() {
			touch("album/one.mp3", 1)
			touch("album/readme.txt", 1)
			touch("album/.cover.jpg", 1)
			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())

			obj, err := idx.Get(children[0].ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(obj.IsContainer()).To(BeTrue())
			Expect(obj.ChildCount).To(Equal(1))
		})

		It("returns ErrNotFound once the file is gone", func() {
			touch("song.mp3", 1)
			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(os.Remove(filepath.Join(root, "song.mp3"))).To(Succeed())
			_, err = idx.Get(children[0].ID)
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns ErrNotFound for an id never assigned", func() {
			_, err := idx.Get(model.ObjectID(42))
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Lookup", func() {
		BeforeEach(func() {
			newIndex()
		})

		It("resolves an id to the absolute path", func() {
			touch("shows/pilot.mkv", 1)
			top, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			nested, _, err := idx.List(top[0].ID, 0, 0)
			Expect(err).ToNot(HaveOccurred())

			p, err := idx.Lookup(nested[0].ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(p).To(Equal(filepath.Join(root, "shows", "pilot.mkv")))
		})

		It("keeps the binding after the file disappears", func() {
			touch("song.mp3", 1)
			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(os.Remove(filepath.Join(root, "song.mp3"))).To(Succeed())

			p, err := idx.Lookup(children[0].ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(p).To(Equal(filepath.Join(root, "song.mp3")))
		})

		It("returns ErrNotFound for an id never assigned", func() {
			_, err := idx.Lookup(model.ObjectID(7))
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("UpdateID", func() {
		BeforeEach(func() {
			newIndex()
		})

		It("starts at zero and holds there for an empty root", func() {
			Expect(idx.UpdateID()).To(Equal(uint32(0)))
			_, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(idx.UpdateID()).To(Equal(uint32(0)))
		})

		It("advances when a listing discovers new entries, then settles", func() {
			touch("a.mp3", 1)
			touch("b.mp3", 1)
			_, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(idx.UpdateID()).To(Equal(uint32(1)))

			_, _, err = idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(idx.UpdateID()).To(Equal(uint32(1)))
		})

		It("advances again when the visible set shrinks", func() {
			touch("a.mp3", 1)
			touch("b.mp3", 1)
			_, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())

			Expect(os.Remove(filepath.Join(root, "b.mp3"))).To(Succeed())
			_, _, err = idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(idx.UpdateID()).To(Equal(uint32(2)))
		})
	})

	Describe("durations", func() {
		BeforeEach(func() {
			newIndex()
		})

		It("fills durations declared by container headers", func() {
			hdr := make([]byte, 64)
			copy(hdr[12:], "mvhd")
			binary.BigEndian.PutUint32(hdr[12+16:], 1000)
			binary.BigEndian.PutUint32(hdr[12+20:], 90000)
			Expect(os.WriteFile(filepath.Join(root, "movie.mp4"), hdr, 0o600)).To(Succeed())

			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(children).To(HaveLen(1))
			Expect(children[0].Duration).To(Equal(90 * time.Second))
		})

		It("leaves the duration zero for formats it does not probe", func() {
			touch("song.mp3", 1)
			children, _, err := idx.List(model.RootID, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(children[0].Duration).To(BeZero())
		})
	})
})
