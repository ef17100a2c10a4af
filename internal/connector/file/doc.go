/*
Package file 实现按行读写文件的连接器。

专有配置：

  - READ_FILES: 读取的文件，使用 ';' 或 ':' 分隔。可以是文件、目录（读取其中全部文件）
    或父目录下文件的正则表达式，结果按绝对路径排序。
  - WRITE_FILES: 写入的文件或目录。为目录时每个通道一个输出文件 FileConnector_<毫秒>_<序号>.txt。
  - DATA_TIMEDIFF: 推送模式下两行之间的间隔（毫秒）。

轮询间隔 > 0 时每次轮询读取一行，通道为文件名；轮询间隔 <= 0 时连接器自行按行推送。
*/
package file
